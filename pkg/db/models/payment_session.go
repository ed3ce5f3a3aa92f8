package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/pkg/enums"
	"github.com/bopmarket/backend/pkg/types"
)

// PaymentSession is the idempotency anchor of checkout. The gateway reference
// is the primary key; the row carries the frozen order plan from initialize
// to fulfillment. Status moves off pending exactly once, through a
// conditional update.
type PaymentSession struct {
	Reference        string                     `gorm:"column:reference;primaryKey"`
	UserID           uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;index"`
	Status           enums.PaymentSessionStatus `gorm:"column:status;not null;default:'pending'"`
	AmountCents      int64                      `gorm:"column:amount_cents;not null"`
	Currency         enums.Currency             `gorm:"column:currency;not null;default:'NGN'"`
	Plan             types.OrderPlan            `gorm:"column:plan;type:jsonb;not null"`
	AuthorizationURL *string                    `gorm:"column:authorization_url"`
	AccessCode       *string                    `gorm:"column:access_code"`
	FailureReason    *string                    `gorm:"column:failure_reason"`
	ExpiresAt        time.Time                  `gorm:"column:expires_at;not null"`
	CompletedAt      *time.Time                 `gorm:"column:completed_at"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
