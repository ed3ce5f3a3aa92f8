package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/internal/escrow"
	"github.com/bopmarket/backend/internal/orders"
	"github.com/bopmarket/backend/internal/payments"
	"github.com/bopmarket/backend/internal/products"
	"github.com/bopmarket/backend/internal/users"
	dbpkg "github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/metrics"
	"github.com/bopmarket/backend/pkg/outbox"
	"github.com/bopmarket/backend/pkg/paystack"
	"github.com/bopmarket/backend/pkg/types"
)

// errGroupAlreadyOrdered aborts a group transaction when the unique
// (reference, store) order index says a concurrent delivery won.
var errGroupAlreadyOrdered = errors.New("store group already ordered")

// verifier is the slice of the gateway client the engine needs to re-check a
// charge before fulfilling from the polling path.
type verifier interface {
	Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

// Engine turns a confirmed payment into orders, escrows, and stock
// decrements. The session's conditional flip to completed is the gate: only
// the caller that wins it runs fulfillment, so webhook and verify deliveries
// can race freely.
type Engine struct {
	tx       *dbpkg.Client
	sessions payments.Repository
	orders   orders.Repository
	products products.Repository
	users    users.Repository
	escrows  escrow.Repository
	outbox   *outbox.Service
	verifier verifier
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// EngineParams collects the dependencies for NewEngine.
type EngineParams struct {
	TxRunner *dbpkg.Client
	Sessions payments.Repository
	Orders   orders.Repository
	Products products.Repository
	Users    users.Repository
	Escrows  escrow.Repository
	Outbox   *outbox.Service
	Verifier verifier
	Metrics  *metrics.CheckoutMetrics
	Logger   *logger.Logger
}

// NewEngine wires fulfillment dependencies.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Products == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "products repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if params.Escrows == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway verifier required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Engine{
		tx:       params.TxRunner,
		sessions: params.Sessions,
		orders:   params.Orders,
		products: params.Products,
		users:    params.Users,
		escrows:  params.Escrows,
		outbox:   params.Outbox,
		verifier: params.Verifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Fulfill completes the session, materializes its plan, and returns every
// order recorded under the reference. Safe to call any number of times:
// losers of the status flip return the winner's orders, and store groups that
// already have an order are skipped on retry.
func (e *Engine) Fulfill(ctx context.Context, reference string) ([]models.Order, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	logCtx := e.logg.WithReference(ctx, reference)

	session, err := e.sessions.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case enums.PaymentSessionCompleted:
		// Redelivery of a success we already processed. Groups skipped on a
		// previous partial run still need a pass.
		return e.materialize(logCtx, session)
	case enums.PaymentSessionFailed, enums.PaymentSessionExpired:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("session is %s, cannot fulfill", session.Status))
	}

	// A pending session past its expiry is logically cancelled; a late
	// completion must not resurrect it. The cron sweep would catch it
	// eventually, but the first toucher settles it here.
	if e.now().UTC().After(session.ExpiresAt) {
		if _, err := e.sessions.Expire(ctx, reference); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire lapsed session")
		}
		e.metrics.IncSessionFinished(string(enums.PaymentSessionExpired))
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is expired, cannot fulfill")
	}

	won, err := e.sessions.Complete(ctx, reference, e.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete session")
	}
	if !won {
		refreshed, err := e.sessions.FindByReference(ctx, reference)
		if err != nil {
			return nil, err
		}
		if refreshed.Status == enums.PaymentSessionCompleted {
			e.logg.Info(logCtx, "session completed by concurrent delivery")
			existing, err := e.orders.FindByPaymentReference(ctx, reference)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing orders")
			}
			return existing, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("session is %s, cannot fulfill", refreshed.Status))
	}

	e.metrics.IncSessionFinished(string(enums.PaymentSessionCompleted))
	e.logg.Info(logCtx, "payment session completed")

	return e.materialize(logCtx, session)
}

// materialize walks the plan's store groups and creates what is missing. A
// group short on stock stays skipped without failing the call; the payment is
// already captured, so the remaining groups still go through and the caller
// sees the orders that did land.
func (e *Engine) materialize(ctx context.Context, session *models.PaymentSession) ([]models.Order, error) {
	plan := session.Plan

	existing, err := e.orders.FindByPaymentReference(ctx, session.Reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing orders")
	}
	done := make(map[uuid.UUID]bool, len(existing))
	for _, order := range existing {
		done[order.StoreID] = true
	}

	var failures error
	created := 0
	for _, group := range plan.Groups {
		if done[group.StoreID] {
			continue
		}
		if err := e.fulfillGroup(ctx, session, group); err != nil {
			groupCtx := e.logg.WithField(ctx, "store_id", group.StoreID.String())
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
				e.logg.Warn(groupCtx, "store group skipped on stock shortfall")
				continue
			}
			e.logg.Error(groupCtx, "store group fulfillment failed", err)
			failures = multierr.Append(failures, err)
			continue
		}
		created++
	}

	if created > 0 {
		e.metrics.AddOrdersCreated(created)
	}

	if err := e.finishSession(ctx, session); err != nil {
		failures = multierr.Append(failures, err)
	}
	if failures != nil {
		return nil, failures
	}

	all, err := e.orders.FindByPaymentReference(ctx, session.Reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders")
	}
	return all, nil
}

func (e *Engine) fulfillGroup(ctx context.Context, session *models.PaymentSession, group types.StoreGroup) error {
	plan := session.Plan

	shortfall := false
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		productsRepo := e.products.WithTx(tx)
		for _, item := range group.Items {
			ok, err := productsRepo.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
			}
			if !ok {
				shortfall = true
				return pkgerrors.New(pkgerrors.CodeConflict,
					fmt.Sprintf("insufficient stock for product %s", item.ProductID))
			}
		}

		order := &models.Order{
			PaymentReference:  session.Reference,
			StoreID:           group.StoreID,
			BuyerID:           plan.UserID,
			SellerID:          group.SellerID,
			Status:            enums.OrderPlaced,
			SubtotalCents:     group.SubtotalCents,
			DiscountCents:     groupDiscount(plan, group),
			ShippingFeeCents:  groupShipping(plan, group),
			CouponCode:        couponCode(plan),
			ShippingAddressID: plan.ShippingAddressID,
		}
		order.TotalCents = order.SubtotalCents - order.DiscountCents + order.ShippingFeeCents
		for _, item := range group.Items {
			order.Items = append(order.Items, models.OrderItem{
				ProductID:      item.ProductID,
				ProductName:    item.ProductName,
				Quantity:       item.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				SubtotalCents:  item.SubtotalCents,
			})
		}
		if err := e.orders.WithTx(tx).Create(ctx, order); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				// A concurrent redelivery beat us to this group. Rolling
				// back also returns the stock we just decremented.
				return errGroupAlreadyOrdered
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		hold := &models.Escrow{
			OrderID:     order.ID,
			BuyerID:     plan.UserID,
			SellerID:    group.SellerID,
			AmountCents: order.TotalCents,
			Status:      enums.EscrowPending,
		}
		if err := e.escrows.WithTx(tx).Create(ctx, hold); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow")
		}

		actor := &outbox.ActorRef{UserID: plan.UserID, Role: "buyer"}
		if err := e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Data: map[string]any{
				"order_id":   order.ID.String(),
				"store_id":   group.StoreID.String(),
				"store_name": group.StoreName,
				"buyer_id":   plan.UserID.String(),
				"seller_id":  group.SellerID.String(),
				"email":      plan.Email,
				"reference":  session.Reference,
				"total":      order.TotalCents,
			},
			Version: 1,
		}); err != nil {
			return err
		}
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowCreated,
			AggregateType: enums.AggregateEscrow,
			AggregateID:   hold.ID,
			Actor:         actor,
			Data: map[string]any{
				"escrow_id": hold.ID.String(),
				"order_id":  order.ID.String(),
				"seller_id": group.SellerID.String(),
				"amount":    hold.AmountCents,
			},
			Version: 1,
		})
	})

	if shortfall {
		e.metrics.IncStockShortfall()
		e.emitStockDepleted(ctx, session, group)
	}
	if errors.Is(err, errGroupAlreadyOrdered) {
		return nil
	}
	return err
}

// emitStockDepleted records the shortfall in its own transaction; the group
// transaction that detected it has already rolled back.
func (e *Engine) emitStockDepleted(ctx context.Context, session *models.PaymentSession, group types.StoreGroup) {
	emitErr := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockDepleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   referenceAggregateID(session.Reference, group.StoreID.String()),
			Data: map[string]any{
				"reference": session.Reference,
				"store_id":  group.StoreID.String(),
				"seller_id": group.SellerID.String(),
				"buyer_id":  session.Plan.UserID.String(),
			},
			Version: 1,
		})
	})
	if emitErr != nil {
		e.logg.Error(ctx, "failed to record stock shortfall", emitErr)
	}
}

// finishSession clears the buyer's cart and records payment completion. Both
// are idempotent, so redeliveries repeat them harmlessly.
func (e *Engine) finishSession(ctx context.Context, session *models.PaymentSession) error {
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.users.WithTx(tx).ClearCart(ctx, session.Plan.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCompleted,
			AggregateType: enums.AggregatePaymentSession,
			AggregateID:   referenceAggregateID(session.Reference, ""),
			Actor:         &outbox.ActorRef{UserID: session.Plan.UserID, Role: "buyer"},
			Data: map[string]any{
				"reference": session.Reference,
				"user_id":   session.Plan.UserID.String(),
				"email":     session.Plan.Email,
				"amount":    session.AmountCents,
			},
			Version: 1,
		})
	})
}

// MarkFailed records a gateway failure for a pending session. Redeliveries
// and failures arriving after completion are ignored.
func (e *Engine) MarkFailed(ctx context.Context, reference, reason string) error {
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	won, err := e.sessions.Fail(ctx, reference, reason)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail session")
	}
	if !won {
		return nil
	}

	e.metrics.IncSessionFinished(string(enums.PaymentSessionFailed))
	logCtx := e.logg.WithReference(ctx, reference)
	e.logg.Info(logCtx, "payment session failed")

	session, err := e.sessions.FindByReference(ctx, reference)
	if err != nil {
		return err
	}
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentSession,
			AggregateID:   referenceAggregateID(reference, ""),
			Data: map[string]any{
				"reference": reference,
				"user_id":   session.UserID.String(),
				"email":     session.Plan.Email,
				"reason":    reason,
			},
			Version: 1,
		})
	})
}

// VerifyAndFulfill is the polling path: the client lands back on the site and
// asks us to confirm the charge with the gateway instead of waiting for the
// webhook.
func (e *Engine) VerifyAndFulfill(ctx context.Context, userID uuid.UUID, reference string) (*models.PaymentSession, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	session, err := e.sessions.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user")
	}
	if session.Status == enums.PaymentSessionCompleted {
		return session, nil
	}

	result, err := e.verifier.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Succeeded():
		if result.AmountCents != session.AmountCents {
			reason := fmt.Sprintf("amount mismatch: charged %d, expected %d", result.AmountCents, session.AmountCents)
			if _, failErr := e.sessions.Fail(ctx, reference, reason); failErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, failErr, "fail session")
			}
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, reason)
		}
		if _, err := e.Fulfill(ctx, reference); err != nil {
			return nil, err
		}
	case result.Status == "failed" || result.Status == "abandoned":
		reason := result.GatewayResp
		if reason == "" {
			reason = "charge " + result.Status
		}
		if err := e.MarkFailed(ctx, reference, reason); err != nil {
			return nil, err
		}
	}

	return e.sessions.FindByReference(ctx, reference)
}

// referenceAggregateID derives a stable uuid for events keyed by the gateway
// reference, which is a string rather than a uuid.
func referenceAggregateID(reference, scope string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(reference+"|"+scope))
}

func couponCode(plan types.OrderPlan) *string {
	if plan.Coupon == nil {
		return nil
	}
	code := plan.Coupon.Code
	return &code
}

// groupDiscount spreads the plan-level discount across groups in proportion
// to their subtotal, giving any rounding remainder to the first group.
func groupDiscount(plan types.OrderPlan, group types.StoreGroup) int64 {
	if plan.DiscountCents == 0 || plan.SubtotalCents == 0 {
		return 0
	}
	if len(plan.Groups) > 0 && plan.Groups[0].StoreID == group.StoreID {
		share := plan.DiscountCents
		for _, other := range plan.Groups[1:] {
			share -= proportionalShare(plan.DiscountCents, other.SubtotalCents, plan.SubtotalCents)
		}
		return share
	}
	return proportionalShare(plan.DiscountCents, group.SubtotalCents, plan.SubtotalCents)
}

func proportionalShare(total, part, whole int64) int64 {
	return decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		IntPart()
}

// groupShipping assigns the whole shipping fee to the first group so the sum
// across orders always matches what the buyer paid.
func groupShipping(plan types.OrderPlan, group types.StoreGroup) int64 {
	if len(plan.Groups) > 0 && plan.Groups[0].StoreID == group.StoreID {
		return plan.ShippingFeeCents
	}
	return 0
}
