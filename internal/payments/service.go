package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/metrics"
	"github.com/bopmarket/backend/pkg/pagination"
	"github.com/bopmarket/backend/pkg/paystack"
)

// gateway is the slice of the payment provider client that initialize needs.
type gateway interface {
	Initialize(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error)
}

// Service owns payment session creation and lookup. Completion is the
// fulfillment engine's job; this service never moves a session off pending.
type Service interface {
	Initialize(ctx context.Context, input InitializeInput) (*InitializeResult, error)
	Status(ctx context.Context, userID uuid.UUID, reference string) (*SessionStatus, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ListResult, error)
}

// InitializeInput starts a checkout for the buyer's current cart.
type InitializeInput struct {
	UserID            uuid.UUID
	CouponCode        string
	ShippingAddressID *uuid.UUID
	CallbackURL       string
}

// InitializeResult is returned to the client so it can redirect to the
// gateway's hosted checkout page.
type InitializeResult struct {
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url"`
	AccessCode       string    `json:"access_code"`
	AmountCents      int64     `json:"amount_cents"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// SessionStatus is the buyer-facing view of a session.
type SessionStatus struct {
	Reference     string                     `json:"reference"`
	Status        enums.PaymentSessionStatus `json:"status"`
	AmountCents   int64                      `json:"amount_cents"`
	Currency      enums.Currency             `json:"currency"`
	FailureReason *string                    `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time                  `json:"expires_at"`
	CompletedAt   *time.Time                 `json:"completed_at,omitempty"`
}

// ListResult wraps a page of sessions and the cursor for the next page.
type ListResult struct {
	Items  []SessionStatus `json:"items"`
	Cursor string          `json:"cursor"`
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	TxRunner        *dbpkg.Client
	Repo            Repository
	Builder         *PlanBuilder
	Gateway         gateway
	Metrics         *metrics.CheckoutMetrics
	Logger          *logger.Logger
	SessionTTL      time.Duration
	ReferencePrefix string
	Currency        enums.Currency
}

type service struct {
	tx      *dbpkg.Client
	repo    Repository
	builder *PlanBuilder
	gateway gateway
	metrics *metrics.CheckoutMetrics
	logg    *logger.Logger

	sessionTTL time.Duration
	refPrefix  string
	currency   enums.Currency
	now        func() time.Time
}

// NewService wires payment session dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if params.Builder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan builder required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.SessionTTL <= 0 {
		params.SessionTTL = 30 * time.Minute
	}
	if params.ReferencePrefix == "" {
		params.ReferencePrefix = "BOP"
	}
	if params.Currency == "" {
		params.Currency = enums.CurrencyNGN
	}
	return &service{
		tx:         params.TxRunner,
		repo:       params.Repo,
		builder:    params.Builder,
		gateway:    params.Gateway,
		metrics:    params.Metrics,
		logg:       params.Logger,
		sessionTTL: params.SessionTTL,
		refPrefix:  params.ReferencePrefix,
		currency:   params.Currency,
		now:        time.Now,
	}, nil
}

// NewReference builds a gateway reference. The millisecond prefix keeps
// references roughly sortable; the uuid makes collisions a non-issue.
func NewReference(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), uuid.NewString())
}

func (s *service) Initialize(ctx context.Context, input InitializeInput) (*InitializeResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	plan, err := s.builder.Build(ctx, BuildInput{
		UserID:            input.UserID,
		CouponCode:        input.CouponCode,
		ShippingAddressID: input.ShippingAddressID,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.PaymentSession{
		Reference:   NewReference(s.refPrefix, now),
		UserID:      input.UserID,
		Status:      enums.PaymentSessionPending,
		AmountCents: plan.TotalCents,
		Currency:    s.currency,
		Plan:        *plan,
		ExpiresAt:   now.Add(s.sessionTTL),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment session")
	}

	logCtx := s.logg.WithReference(s.logg.WithUserID(ctx, input.UserID.String()), session.Reference)

	gatewayResult, err := s.gateway.Initialize(ctx, paystack.InitializeParams{
		Reference:   session.Reference,
		Email:       plan.Email,
		AmountCents: plan.TotalCents,
		Currency:    string(s.currency),
		CallbackURL: input.CallbackURL,
		Metadata: map[string]any{
			"user_id":     input.UserID.String(),
			"store_count": len(plan.Groups),
		},
	})
	if err != nil {
		// The gateway never saw the session, so the row can fail immediately
		// instead of waiting for the expiry sweep.
		if _, failErr := s.repo.Fail(ctx, session.Reference, "gateway initialize failed"); failErr != nil {
			s.logg.Error(logCtx, "failed to mark session failed", failErr)
		}
		s.metrics.IncSessionFinished(string(enums.PaymentSessionFailed))
		return nil, err
	}

	if err := s.repo.SetGatewayHandle(ctx, session.Reference, gatewayResult.AuthorizationURL, gatewayResult.AccessCode); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gateway handle")
	}

	s.metrics.IncSessionInitialized()
	s.logg.Info(logCtx, "payment session initialized")

	return &InitializeResult{
		Reference:        session.Reference,
		AuthorizationURL: gatewayResult.AuthorizationURL,
		AccessCode:       gatewayResult.AccessCode,
		AmountCents:      session.AmountCents,
		ExpiresAt:        session.ExpiresAt,
	}, nil
}

func (s *service) Status(ctx context.Context, userID uuid.UUID, reference string) (*SessionStatus, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	session, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user")
	}
	status := sessionStatus(*session)
	return &status, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	rows, next, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, err
	}

	items := make([]SessionStatus, 0, len(rows))
	for _, row := range rows {
		items = append(items, sessionStatus(row))
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: items, Cursor: cursor}, nil
}

func sessionStatus(session models.PaymentSession) SessionStatus {
	return SessionStatus{
		Reference:     session.Reference,
		Status:        session.Status,
		AmountCents:   session.AmountCents,
		Currency:      session.Currency,
		FailureReason: session.FailureReason,
		ExpiresAt:     session.ExpiresAt,
		CompletedAt:   session.CompletedAt,
	}
}
