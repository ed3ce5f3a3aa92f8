package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestOrderPlanRoundTripsThroughJSONB(t *testing.T) {
	storeID := uuid.New()
	plan := OrderPlan{
		UserID: uuid.New(),
		Email:  "buyer@example.com",
		Groups: []StoreGroup{
			{
				StoreID:   storeID,
				StoreName: "Lagos Threads",
				SellerID:  uuid.New(),
				Items: []PlanItem{
					{ProductID: uuid.New(), ProductName: "Tee", Quantity: 2, UnitPriceCents: 150000, SubtotalCents: 300000},
				},
				SubtotalCents: 300000,
			},
		},
		Coupon:        &CouponSnapshot{Code: "welcome10", CouponID: uuid.New(), DiscountPercent: 10},
		SubtotalCents: 300000,
		DiscountCents: 30000,
		TotalCents:    270000,
	}

	value, err := plan.Value()
	require.NoError(t, err)

	var decoded OrderPlan
	require.NoError(t, decoded.Scan(value))

	require.Equal(t, plan.UserID, decoded.UserID)
	require.Len(t, decoded.Groups, 1)
	require.Equal(t, storeID, decoded.Groups[0].StoreID)
	require.NotNil(t, decoded.Coupon)
	require.Equal(t, 10, decoded.Coupon.DiscountPercent)
	require.Equal(t, 1, decoded.ItemCount())
}

func TestCartMapScanHandlesNilAndBytes(t *testing.T) {
	var cart CartMap
	require.NoError(t, cart.Scan(nil))
	require.NotNil(t, cart)
	require.Zero(t, cart.TotalQuantity())

	require.NoError(t, cart.Scan([]byte(`{"p1":2,"p2":3}`)))
	require.Equal(t, 5, cart.TotalQuantity())
}
