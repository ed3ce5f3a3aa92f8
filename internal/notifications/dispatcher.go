package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/mailer"
	"github.com/bopmarket/backend/pkg/outbox"
)

// Dispatcher drains the outbox and fans each domain event out to in-app
// notifications and, when the payload carries an address, email. Events it
// does not care about are marked published so they do not clog the queue.
type Dispatcher struct {
	events *outbox.Repository
	repo   Repository
	mail   mailer.Sender
	logg   *logger.Logger

	batchSize   int
	maxAttempts int
}

// DispatcherParams collects the dependencies for NewDispatcher.
type DispatcherParams struct {
	Events      *outbox.Repository
	Repo        Repository
	Mailer      mailer.Sender
	Logger      *logger.Logger
	BatchSize   int
	MaxAttempts int
}

// NewDispatcher wires dispatch dependencies. Mailer may be nil; in-app rows
// are still written and email is skipped.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox repository required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 10
	}
	return &Dispatcher{
		events:      params.Events,
		repo:        params.Repo,
		mail:        params.Mailer,
		logg:        params.Logger,
		batchSize:   params.BatchSize,
		maxAttempts: params.MaxAttempts,
	}, nil
}

// RunOnce processes one batch. The returned count is how many events were
// published; events whose handling failed stay queued and are not counted,
// so callers can loop until the count reaches zero.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	batch, err := d.events.FetchUnpublished(d.batchSize, d.maxAttempts)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch outbox batch")
	}

	published := 0
	for _, event := range batch {
		if err := d.process(ctx, event); err != nil {
			logCtx := d.logg.WithFields(ctx, map[string]any{
				"event_id":   event.ID.String(),
				"event_type": string(event.EventType),
			})
			d.logg.Error(logCtx, "notification dispatch failed", err)
			if markErr := d.events.MarkFailed(event.ID, err); markErr != nil {
				d.logg.Error(logCtx, "failed to record dispatch failure", markErr)
			}
			continue
		}
		if err := d.events.MarkPublished(event.ID); err != nil {
			return published, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark event published")
		}
		published++
	}
	return published, nil
}

// eventPayload is the superset of fields the pipeline's emitters put in
// envelope data. Absent fields decode to zero values.
type eventPayload struct {
	OrderID   string `json:"order_id"`
	EscrowID  string `json:"escrow_id"`
	StoreID   string `json:"store_id"`
	StoreName string `json:"store_name"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	UserID    string `json:"user_id"`
	Reference string `json:"reference"`
	Email     string `json:"email"`
	Reason    string `json:"reason"`
	Total     int64  `json:"total"`
	Amount    int64  `json:"amount"`
}

func (d *Dispatcher) process(ctx context.Context, event models.OutboxEvent) error {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	var payload eventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch event.EventType {
	case enums.EventOrderPlaced:
		if err := d.notify(ctx, payload.BuyerID, enums.NotificationOrderPlaced,
			"Order placed",
			fmt.Sprintf("Your order from %s is confirmed.", storeLabel(payload)),
			envelope.Data); err != nil {
			return err
		}
		if err := d.notify(ctx, payload.SellerID, enums.NotificationOrderPlaced,
			"New order",
			fmt.Sprintf("You have a new order worth %d.", payload.Total),
			envelope.Data); err != nil {
			return err
		}
		return d.email(ctx, payload.Email, "Your order is confirmed",
			fmt.Sprintf("Thanks for your purchase. Payment reference: %s.", payload.Reference))

	case enums.EventOrderShipped:
		return d.notify(ctx, payload.BuyerID, enums.NotificationOrderShipped,
			"Order shipped",
			"The seller has shipped your order.",
			envelope.Data)

	case enums.EventOrderDelivered:
		return d.notify(ctx, payload.SellerID, enums.NotificationOrderDelivered,
			"Order delivered",
			"The buyer confirmed delivery. Funds release is up to them next.",
			envelope.Data)

	case enums.EventEscrowReleased:
		return d.notify(ctx, payload.SellerID, enums.NotificationEscrowReleased,
			"Funds released",
			fmt.Sprintf("The buyer released %d held in escrow.", payload.Amount),
			envelope.Data)

	case enums.EventEscrowDisputed:
		if err := d.notify(ctx, payload.BuyerID, enums.NotificationEscrowDisputed,
			"Escrow disputed",
			"The escrow on your order is under review.",
			envelope.Data); err != nil {
			return err
		}
		return d.notify(ctx, payload.SellerID, enums.NotificationEscrowDisputed,
			"Escrow disputed",
			"The escrow on your order is under review.",
			envelope.Data)

	case enums.EventPaymentFailed:
		if err := d.notify(ctx, payload.UserID, enums.NotificationPaymentFailed,
			"Payment failed",
			failureBody(payload),
			envelope.Data); err != nil {
			return err
		}
		return d.email(ctx, payload.Email, "Payment failed", failureBody(payload))

	case enums.EventPaymentExpired:
		return d.notify(ctx, payload.UserID, enums.NotificationPaymentExpired,
			"Payment session expired",
			"Your checkout session expired before payment arrived. Start again from your cart.",
			envelope.Data)

	case enums.EventStockDepleted:
		return d.notify(ctx, payload.SellerID, enums.NotificationStockDepleted,
			"Order skipped: out of stock",
			"A paid order could not be fulfilled because the stock ran out.",
			envelope.Data)

	default:
		// Not a notification-bearing event.
		return nil
	}
}

func (d *Dispatcher) notify(ctx context.Context, rawUserID string, kind enums.NotificationType, title, body string, metadata json.RawMessage) error {
	if rawUserID == "" {
		return nil
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return fmt.Errorf("invalid recipient id %q: %w", rawUserID, err)
	}
	return d.repo.Create(ctx, &models.Notification{
		UserID:   userID,
		Type:     kind,
		Title:    title,
		Body:     body,
		Metadata: metadata,
	})
}

func (d *Dispatcher) email(ctx context.Context, to, subject, body string) error {
	if d.mail == nil || to == "" {
		return nil
	}
	return d.mail.Send(ctx, mailer.Message{To: to, Subject: subject, TextBody: body})
}

func storeLabel(payload eventPayload) string {
	if payload.StoreName != "" {
		return payload.StoreName
	}
	return "the store"
}

func failureBody(payload eventPayload) string {
	if payload.Reason != "" {
		return fmt.Sprintf("Your payment did not go through: %s.", payload.Reason)
	}
	return "Your payment did not go through."
}
