package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PlanItem is one priced cart line inside a store group. UnitPriceCents is the
// price captured at snapshot time; fulfillment never re-reads the product row
// for pricing.
type PlanItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	SubtotalCents  int64     `json:"subtotal_cents"`
}

// StoreGroup is the slice of the cart that belongs to one store. Each group
// becomes its own order during fulfillment.
type StoreGroup struct {
	StoreID       uuid.UUID  `json:"store_id"`
	StoreName     string     `json:"store_name"`
	SellerID      uuid.UUID  `json:"seller_id"`
	Items         []PlanItem `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
}

// CouponSnapshot freezes the evaluated coupon at plan-build time so the
// discount applied at fulfillment matches what the buyer was quoted.
type CouponSnapshot struct {
	Code            string    `json:"code"`
	CouponID        uuid.UUID `json:"coupon_id"`
	DiscountPercent int       `json:"discount_percent"`
}

// OrderPlan is the immutable snapshot a payment session carries from checkout
// to fulfillment. It is persisted as jsonb on the session row.
type OrderPlan struct {
	UserID            uuid.UUID       `json:"user_id"`
	Email             string          `json:"email"`
	Groups            []StoreGroup    `json:"groups"`
	Coupon            *CouponSnapshot `json:"coupon,omitempty"`
	SubtotalCents     int64           `json:"subtotal_cents"`
	DiscountCents     int64           `json:"discount_cents"`
	ShippingFeeCents  int64           `json:"shipping_fee_cents"`
	TotalCents        int64           `json:"total_cents"`
	ShippingAddressID *uuid.UUID      `json:"shipping_address_id,omitempty"`
}

// Value implements driver.Valuer so the plan can be stored as jsonb.
func (p OrderPlan) Value() (driver.Value, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("order plan: marshal %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner for the jsonb column.
func (p *OrderPlan) Scan(value interface{}) error {
	if value == nil {
		*p = OrderPlan{}
		return nil
	}

	raw, ok := toString(value)
	if !ok {
		return fmt.Errorf("order plan: unsupported scan type %T", value)
	}
	if raw == "" {
		*p = OrderPlan{}
		return nil
	}

	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return fmt.Errorf("order plan: unmarshal %w", err)
	}
	return nil
}

// ItemCount reports the number of distinct cart lines across all groups.
func (p OrderPlan) ItemCount() int {
	count := 0
	for _, group := range p.Groups {
		count += len(group.Items)
	}
	return count
}
