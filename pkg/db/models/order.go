package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/pkg/enums"
)

// Order is one store group of a completed payment session. A session with
// items from three stores produces three orders sharing one payment
// reference.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	PaymentReference  string            `gorm:"column:payment_reference;not null;index;uniqueIndex:uidx_orders_reference_store,priority:1"`
	StoreID           uuid.UUID         `gorm:"column:store_id;type:uuid;not null;index;uniqueIndex:uidx_orders_reference_store,priority:2"`
	BuyerID           uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID          uuid.UUID         `gorm:"column:seller_id;type:uuid;not null"`
	Status            enums.OrderStatus `gorm:"column:status;not null;default:'placed'"`
	SubtotalCents     int64             `gorm:"column:subtotal_cents;not null"`
	DiscountCents     int64             `gorm:"column:discount_cents;not null;default:0"`
	ShippingFeeCents  int64             `gorm:"column:shipping_fee_cents;not null;default:0"`
	TotalCents        int64             `gorm:"column:total_cents;not null"`
	CouponCode        *string           `gorm:"column:coupon_code"`
	ShippingAddressID *uuid.UUID        `gorm:"column:shipping_address_id;type:uuid"`
	Items             []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
