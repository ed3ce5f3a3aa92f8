package coupons

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/internal/users"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/types"
)

// orderCounter reports how many orders a buyer has placed. Satisfied by the
// orders repository; declared here to keep the dependency one-way.
type orderCounter interface {
	CountByBuyer(ctx context.Context, buyerID uuid.UUID) (int64, error)
}

// Service evaluates coupon codes against a buyer's eligibility.
type Service interface {
	Evaluate(ctx context.Context, userID uuid.UUID, code string) (*Evaluation, error)
}

// Evaluation is the result of a successful coupon check. The snapshot is what
// checkout freezes into the order plan.
type Evaluation struct {
	Snapshot        types.CouponSnapshot `json:"coupon"`
	DiscountPercent int                  `json:"discount_percent"`
}

type service struct {
	repo   Repository
	users  users.Repository
	orders orderCounter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires coupon evaluation dependencies.
func NewService(repo Repository, usersRepo users.Repository, orders orderCounter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "coupons repository required")
	}
	if usersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order counter required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:   repo,
		users:  usersRepo,
		orders: orders,
		logg:   logg,
		now:    time.Now,
	}, nil
}

func (s *service) Evaluate(ctx context.Context, userID uuid.UUID, code string) (*Evaluation, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	// Inactive or lapsed codes are indistinguishable from unknown ones.
	if !coupon.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	if coupon.ExpiresAt != nil && !coupon.ExpiresAt.After(s.now().UTC()) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if coupon.ForNewUser {
		count, err := s.orders.CountByBuyer(ctx, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count buyer orders")
		}
		if count > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "coupon is limited to first-time buyers")
		}
	}
	if coupon.ForMember && !user.IsMember {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "coupon is limited to members")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"coupon_code": coupon.Code,
		"user_id":     userID.String(),
	})
	s.logg.Info(logCtx, "coupon evaluated")

	return &Evaluation{
		Snapshot: types.CouponSnapshot{
			Code:            coupon.Code,
			CouponID:        coupon.ID,
			DiscountPercent: coupon.DiscountPercent,
		},
		DiscountPercent: coupon.DiscountPercent,
	}, nil
}
