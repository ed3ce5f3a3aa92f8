package paystackwebhook

import (
	"context"

	"github.com/bopmarket/backend/pkg/db/models"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/metrics"
	"github.com/bopmarket/backend/pkg/paystack"
)

// engine is the slice of the fulfillment engine webhook handling needs.
type engine interface {
	Fulfill(ctx context.Context, reference string) ([]models.Order, error)
	MarkFailed(ctx context.Context, reference, reason string) error
}

// Service verifies, dedupes, and routes Paystack webhook deliveries. The
// handlers behind it are idempotent, so the redis guard is an optimization,
// not a correctness requirement.
type Service struct {
	secretKey string
	guard     *IdempotencyGuard
	engine    engine
	metrics   *metrics.CheckoutMetrics
	logg      *logger.Logger
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	SecretKey string
	Guard     *IdempotencyGuard
	Engine    engine
	Metrics   *metrics.CheckoutMetrics
	Logger    *logger.Logger
}

// NewService wires webhook handling dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.SecretKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "secret key required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "idempotency guard required")
	}
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fulfillment engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{
		secretKey: params.SecretKey,
		guard:     params.Guard,
		engine:    params.Engine,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// HandleWebhook processes one delivery. A nil return means the provider can
// stop retrying; errors invite redelivery, so the dedupe mark is dropped
// before returning one.
func (s *Service) HandleWebhook(ctx context.Context, signature string, payload []byte) error {
	if !paystack.VerifySignature(s.secretKey, payload, signature) {
		s.metrics.IncWebhookEvent("unknown", "rejected")
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	event, err := paystack.ParseWebhookEvent(payload)
	if err != nil {
		s.metrics.IncWebhookEvent("unknown", "malformed")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse webhook event")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event":     event.Event,
		"reference": event.Data.Reference,
	})

	switch event.Event {
	case paystack.EventChargeSuccess, paystack.EventChargeFailed:
	default:
		s.logg.Info(logCtx, "webhook event ignored")
		s.metrics.IncWebhookEvent(event.Event, "ignored")
		return nil
	}

	already, err := s.guard.CheckAndMark(ctx, event.DedupeID())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedupe check")
	}
	if already {
		s.logg.Info(logCtx, "webhook event already processed")
		s.metrics.IncWebhookEvent(event.Event, "duplicate")
		return nil
	}

	if err := s.route(ctx, event); err != nil {
		s.logg.Error(logCtx, "webhook handling failed", err)
		if delErr := s.guard.Delete(ctx, event.DedupeID()); delErr != nil {
			s.logg.Error(logCtx, "failed to release dedupe mark", delErr)
		}
		s.metrics.IncWebhookEvent(event.Event, "error")
		return err
	}

	s.metrics.IncWebhookEvent(event.Event, "processed")
	s.logg.Info(logCtx, "webhook event processed")
	return nil
}

func (s *Service) route(ctx context.Context, event *paystack.WebhookEvent) error {
	switch event.Event {
	case paystack.EventChargeSuccess:
		_, err := s.engine.Fulfill(ctx, event.Data.Reference)
		return err
	case paystack.EventChargeFailed:
		reason := event.Data.GatewayResp
		if reason == "" {
			reason = "charge failed"
		}
		return s.engine.MarkFailed(ctx, event.Data.Reference, reason)
	default:
		return nil
	}
}
