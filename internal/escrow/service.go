package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/internal/orders"
	dbpkg "github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/metrics"
	"github.com/bopmarket/backend/pkg/outbox"
	"github.com/bopmarket/backend/pkg/pagination"
)

// Service drives the escrow state machine. Every transition checks the
// caller's role against the order parties and the current status before
// moving; the conditional update in the repository is the final arbiter.
type Service interface {
	GetByOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error)
	Ensure(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error)
	MarkShipped(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error)
	MarkDelivered(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error)
	Release(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error)
	Dispute(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*ListResult, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*ListResult, error)
}

// ListResult wraps a page of escrows and the cursor for the next page.
type ListResult struct {
	Items  []models.Escrow `json:"items"`
	Cursor string          `json:"cursor"`
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	TxRunner *dbpkg.Client
	Repo     Repository
	Orders   orders.Repository
	Outbox   *outbox.Service
	Metrics  *metrics.CheckoutMetrics
	Logger   *logger.Logger
}

type service struct {
	tx      *dbpkg.Client
	repo    Repository
	orders  orders.Repository
	outbox  *outbox.Service
	metrics *metrics.CheckoutMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires escrow lifecycle dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		tx:      params.TxRunner,
		repo:    params.Repo,
		orders:  params.Orders,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

func (s *service) GetByOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error) {
	escrow, _, err := s.loadForParty(ctx, userID, orderID)
	return escrow, err
}

// Ensure reconciles a paid order that is missing its escrow, which can happen
// when fulfillment crashed between the order insert and the escrow insert.
// Racing creators are resolved by the unique order_id index plus a refetch.
func (s *service) Ensure(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error) {
	escrow, _, err := s.loadForParty(ctx, userID, orderID)
	if err == nil {
		return escrow, nil
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != order.BuyerID && userID != order.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow not found")
	}

	created := &models.Escrow{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		AmountCents: order.TotalCents,
		Status:      enums.EscrowPending,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, created); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowCreated,
			AggregateType: enums.AggregateEscrow,
			AggregateID:   created.ID,
			Data: map[string]any{
				"escrow_id": created.ID.String(),
				"order_id":  order.ID.String(),
				"buyer_id":  order.BuyerID.String(),
				"seller_id": order.SellerID.String(),
				"amount":    order.TotalCents,
			},
			Version: 1,
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return s.GetByOrder(ctx, userID, orderID)
		}
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"escrow_id": created.ID.String(),
		"order_id":  order.ID.String(),
	})
	s.logg.Info(logCtx, "escrow backfilled for paid order")

	return s.repo.FindByOrderID(ctx, orderID)
}

// MarkShipped is the seller acknowledging dispatch. pending -> shipped.
func (s *service) MarkShipped(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error) {
	return s.transition(ctx, transitionSpec{
		userID:      userID,
		orderID:     orderID,
		allowed:     []enums.EscrowActor{enums.EscrowActorSeller},
		from:        []enums.EscrowStatus{enums.EscrowPending},
		to:          enums.EscrowShipped,
		orderStatus: enums.OrderShipped,
		eventType:   enums.EventOrderShipped,
	})
}

// MarkDelivered is the buyer confirming receipt. shipped -> delivered.
func (s *service) MarkDelivered(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error) {
	return s.transition(ctx, transitionSpec{
		userID:      userID,
		orderID:     orderID,
		allowed:     []enums.EscrowActor{enums.EscrowActorBuyer},
		from:        []enums.EscrowStatus{enums.EscrowShipped},
		to:          enums.EscrowDelivered,
		orderStatus: enums.OrderDelivered,
		eventType:   enums.EventOrderDelivered,
	})
}

// Release hands the held funds to the seller. delivered -> released, buyer only.
func (s *service) Release(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error) {
	return s.transition(ctx, transitionSpec{
		userID:      userID,
		orderID:     orderID,
		allowed:     []enums.EscrowActor{enums.EscrowActorBuyer},
		from:        []enums.EscrowStatus{enums.EscrowDelivered},
		to:          enums.EscrowReleased,
		orderStatus: enums.OrderCompleted,
		eventType:   enums.EventEscrowReleased,
	})
}

// Dispute freezes the escrow for manual review. Either party may raise it
// once goods are in flight; a pending or already-settled escrow cannot be
// disputed.
func (s *service) Dispute(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, error) {
	return s.transition(ctx, transitionSpec{
		userID:      userID,
		orderID:     orderID,
		allowed:     []enums.EscrowActor{enums.EscrowActorBuyer, enums.EscrowActorSeller},
		from:        []enums.EscrowStatus{enums.EscrowShipped, enums.EscrowDelivered},
		to:          enums.EscrowDisputed,
		orderStatus: enums.OrderDisputed,
		eventType:   enums.EventEscrowDisputed,
	})
}

func (s *service) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	rows, next, err := s.repo.ListBySeller(ctx, sellerID, params)
	if err != nil {
		return nil, err
	}
	return buildListResult(rows, next), nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	rows, next, err := s.repo.ListByBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, err
	}
	return buildListResult(rows, next), nil
}

type transitionSpec struct {
	userID      uuid.UUID
	orderID     uuid.UUID
	allowed     []enums.EscrowActor
	from        []enums.EscrowStatus
	to          enums.EscrowStatus
	orderStatus enums.OrderStatus
	eventType   enums.OutboxEventType
}

func (s *service) transition(ctx context.Context, spec transitionSpec) (*models.Escrow, error) {
	escrow, actor, err := s.loadForParty(ctx, spec.userID, spec.orderID)
	if err != nil {
		return nil, err
	}

	if !actorAllowed(actor, spec.allowed) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("%s may not move escrow to %s", actor, spec.to))
	}
	if !statusAllowed(escrow.Status, spec.from) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("escrow is %s, cannot move to %s", escrow.Status, spec.to))
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).Transition(ctx, escrow.ID, escrow.Status, spec.to, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "escrow transition")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("escrow moved concurrently, cannot transition to %s", spec.to))
		}

		if err := s.orders.WithTx(tx).UpdateStatus(ctx, escrow.OrderID, spec.orderStatus); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror order status")
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     spec.eventType,
			AggregateType: enums.AggregateEscrow,
			AggregateID:   escrow.ID,
			Actor:         &outbox.ActorRef{UserID: spec.userID, Role: string(actor)},
			Data: map[string]any{
				"escrow_id": escrow.ID.String(),
				"order_id":  escrow.OrderID.String(),
				"buyer_id":  escrow.BuyerID.String(),
				"seller_id": escrow.SellerID.String(),
				"status":    spec.to,
				"amount":    escrow.AmountCents,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncEscrowTransition(string(spec.to))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"escrow_id": escrow.ID.String(),
		"order_id":  escrow.OrderID.String(),
		"status":    string(spec.to),
		"actor":     string(actor),
	})
	s.logg.Info(logCtx, "escrow transitioned")

	return s.repo.FindByOrderID(ctx, spec.orderID)
}

// loadForParty fetches the escrow and resolves which side of the trade the
// caller is on. Outsiders get a not-found, not a forbidden, so order IDs do
// not leak.
func (s *service) loadForParty(ctx context.Context, userID, orderID uuid.UUID) (*models.Escrow, enums.EscrowActor, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if orderID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	escrow, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}

	switch userID {
	case escrow.BuyerID:
		return escrow, enums.EscrowActorBuyer, nil
	case escrow.SellerID:
		return escrow, enums.EscrowActorSeller, nil
	default:
		return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "escrow not found")
	}
}

func actorAllowed(actor enums.EscrowActor, allowed []enums.EscrowActor) bool {
	for _, candidate := range allowed {
		if candidate == actor {
			return true
		}
	}
	return false
}

func statusAllowed(status enums.EscrowStatus, allowed []enums.EscrowStatus) bool {
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}

func buildListResult(rows []models.Escrow, next *pagination.Cursor) *ListResult {
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}
}
