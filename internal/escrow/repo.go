package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/pagination"
)

// Repository exposes persistence helpers for escrows. Transitions are
// conditional on the expected current status so two racing requests cannot
// both move the row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, escrow *models.Escrow) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.EscrowStatus, now time.Time) (bool, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) ([]models.Escrow, *pagination.Cursor, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Escrow, *pagination.Cursor, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an escrow repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, escrow *models.Escrow) error {
	if escrow.ID == uuid.Nil {
		escrow.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(escrow).Error
}

func (r *repositoryImpl) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error) {
	var escrow models.Escrow
	err := r.db.WithContext(ctx).First(&escrow, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow not found")
	}
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// timestampColumns maps each target status to the column stamped on entry.
var timestampColumns = map[enums.EscrowStatus]string{
	enums.EscrowShipped:   "shipped_at",
	enums.EscrowDelivered: "delivered_at",
	enums.EscrowReleased:  "released_at",
	enums.EscrowDisputed:  "disputed_at",
}

// Transition moves the escrow from one status to another. The returned bool
// reports whether the row actually moved; false means the status no longer
// matched the expected value.
func (r *repositoryImpl) Transition(ctx context.Context, id uuid.UUID, from, to enums.EscrowStatus, now time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if column, ok := timestampColumns[to]; ok {
		updates[column] = now
	}

	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) ([]models.Escrow, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Escrow{}).Where("seller_id = ?", sellerID)
	return r.list(query, params)
}

func (r *repositoryImpl) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Escrow, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Escrow{}).Where("buyer_id = ?", buyerID)
	return r.list(query, params)
}

func (r *repositoryImpl) list(query *gorm.DB, params pagination.Params) ([]models.Escrow, *pagination.Cursor, error) {
	query, err := pagination.Apply(query, params)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	var rows []models.Escrow
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	normalized := pagination.NormalizeLimit(params.Limit)
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[normalized-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}
