package payments

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

// Repository exposes persistence helpers for payment sessions. Every status
// change off pending goes through a conditional update so concurrent webhook
// and verify deliveries cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.PaymentSession) error
	FindByReference(ctx context.Context, reference string) (*models.PaymentSession, error)
	SetGatewayHandle(ctx context.Context, reference, authorizationURL, accessCode string) error
	Complete(ctx context.Context, reference string, now time.Time) (bool, error)
	Fail(ctx context.Context, reference, reason string) (bool, error)
	Expire(ctx context.Context, reference string) (bool, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentSession, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.PaymentSession, *pagination.Cursor, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a payment session repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, session *models.PaymentSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repositoryImpl) FindByReference(ctx context.Context, reference string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := r.db.WithContext(ctx).First(&session, "reference = ?", reference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repositoryImpl) SetGatewayHandle(ctx context.Context, reference, authorizationURL, accessCode string) error {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("reference = ?", reference).
		Updates(map[string]any{
			"authorization_url": authorizationURL,
			"access_code":       accessCode,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	return nil
}

// Complete flips a pending session to completed. The returned bool reports
// whether this caller won the flip; a false with no error means some other
// delivery got there first.
func (r *repositoryImpl) Complete(ctx context.Context, reference string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("reference = ? AND status = ?", reference, enums.PaymentSessionPending).
		Updates(map[string]any{
			"status":       enums.PaymentSessionCompleted,
			"completed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) Fail(ctx context.Context, reference, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("reference = ? AND status = ?", reference, enums.PaymentSessionPending).
		Updates(map[string]any{
			"status":         enums.PaymentSessionFailed,
			"failure_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Expire moves a single pending session to expired. A session completing
// concurrently keeps its completed status; the conditional update loses.
func (r *repositoryImpl) Expire(ctx context.Context, reference string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("reference = ? AND status = ?", reference, enums.PaymentSessionPending).
		Update("status", enums.PaymentSessionExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListExpiredPending returns pending sessions whose gateway window has
// lapsed, oldest first, for the expiry sweep.
func (r *repositoryImpl) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentSession, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.PaymentSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.PaymentSessionPending, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.PaymentSession, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.PaymentSession{}).Where("user_id = ?", userID)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where("created_at < ?", cursor.CreatedAt)
	}

	var rows []models.PaymentSession
	if err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[normalized-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt}, nil
	}
	return rows, nil, nil
}
