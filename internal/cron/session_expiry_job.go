package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/internal/payments"
	dbpkg "github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/enums"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/metrics"
	"github.com/bopmarket/backend/pkg/outbox"
)

const sessionExpiryBatch = 200

// SessionExpiryJobParams configure the payment session expiry sweep.
type SessionExpiryJobParams struct {
	Logger   *logger.Logger
	DB       *dbpkg.Client
	Sessions payments.Repository
	Outbox   *outbox.Service
	Metrics  *metrics.CheckoutMetrics
}

// NewSessionExpiryJob sweeps pending sessions whose gateway window lapsed.
// Each expired session gets a payment_expired event so the buyer hears about
// it.
func NewSessionExpiryJob(params SessionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &sessionExpiryJob{
		logg:     params.Logger,
		db:       params.DB,
		sessions: params.Sessions,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		now:      time.Now,
	}, nil
}

type sessionExpiryJob struct {
	logg     *logger.Logger
	db       *dbpkg.Client
	sessions payments.Repository
	outbox   *outbox.Service
	metrics  *metrics.CheckoutMetrics
	now      func() time.Time
}

func (j *sessionExpiryJob) Name() string { return "session-expiry" }

func (j *sessionExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC()
	candidates, err := j.sessions.ListExpiredPending(ctx, cutoff, sessionExpiryBatch)
	if err != nil {
		return fmt.Errorf("list lapsed sessions: %w", err)
	}

	expired := 0
	for _, session := range candidates {
		won, err := j.sessions.Expire(ctx, session.Reference)
		if err != nil {
			return fmt.Errorf("expire session %s: %w", session.Reference, err)
		}
		if !won {
			// Completed or failed between the list and the sweep.
			continue
		}
		expired++
		j.metrics.IncSessionFinished(string(enums.PaymentSessionExpired))

		emitErr := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentExpired,
				AggregateType: enums.AggregatePaymentSession,
				AggregateID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(session.Reference+"|")),
				Data: map[string]any{
					"reference": session.Reference,
					"user_id":   session.UserID.String(),
					"email":     session.Plan.Email,
				},
				Version: 1,
			})
		})
		if emitErr != nil {
			refCtx := j.logg.WithReference(ctx, session.Reference)
			j.logg.Error(refCtx, "failed to record session expiry", emitErr)
		}
	}

	if expired > 0 {
		logCtx := j.logg.WithField(ctx, "sessions_expired", expired)
		j.logg.Info(logCtx, "payment session expiry sweep complete")
	}
	return nil
}
