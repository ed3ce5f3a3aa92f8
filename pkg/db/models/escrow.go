package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/pkg/enums"
)

// Escrow holds the buyer's funds for one order until release. OrderID is
// unique so retried fulfillment cannot double-hold.
type Escrow struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	BuyerID     uuid.UUID          `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID    uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	AmountCents int64              `gorm:"column:amount_cents;not null"`
	Status      enums.EscrowStatus `gorm:"column:status;not null;default:'pending'"`
	ShippedAt   *time.Time         `gorm:"column:shipped_at"`
	DeliveredAt *time.Time         `gorm:"column:delivered_at"`
	ReleasedAt  *time.Time         `gorm:"column:released_at"`
	DisputedAt  *time.Time         `gorm:"column:disputed_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
