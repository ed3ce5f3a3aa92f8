package payments

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bopmarket/backend/internal/coupons"
	"github.com/bopmarket/backend/internal/products"
	"github.com/bopmarket/backend/internal/stores"
	"github.com/bopmarket/backend/internal/users"
	"github.com/bopmarket/backend/pkg/config"
	"github.com/bopmarket/backend/pkg/db/models"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/types"
)

// PlanBuilder snapshots a buyer's cart into an immutable order plan: items
// grouped per store with prices frozen, the coupon evaluated, and totals
// computed. The plan rides on the payment session until fulfillment.
type PlanBuilder struct {
	users    users.Repository
	products products.Repository
	stores   stores.Repository
	coupons  coupons.Service
	shipping config.ShippingConfig
}

// NewPlanBuilder wires snapshot dependencies.
func NewPlanBuilder(
	usersRepo users.Repository,
	productsRepo products.Repository,
	storesRepo stores.Repository,
	couponsSvc coupons.Service,
	shipping config.ShippingConfig,
) (*PlanBuilder, error) {
	if usersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if productsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "products repository required")
	}
	if storesRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stores repository required")
	}
	if couponsSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "coupons service required")
	}
	return &PlanBuilder{
		users:    usersRepo,
		products: productsRepo,
		stores:   storesRepo,
		coupons:  couponsSvc,
		shipping: shipping,
	}, nil
}

// BuildInput configures one snapshot.
type BuildInput struct {
	UserID            uuid.UUID
	CouponCode        string
	ShippingAddressID *uuid.UUID
}

// Build validates the cart and produces the plan. Stock is checked here only
// as an early rejection; the authoritative guard is the conditional decrement
// at fulfillment.
func (b *PlanBuilder) Build(ctx context.Context, input BuildInput) (*types.OrderPlan, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	user, err := b.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if len(user.Cart) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	lines, productIDs, err := cartLines(user.Cart)
	if err != nil {
		return nil, err
	}

	productsByID, err := b.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
	}

	groups, subtotal, err := groupByStore(lines, productsByID)
	if err != nil {
		return nil, err
	}
	if err := b.attachStores(ctx, groups); err != nil {
		return nil, err
	}

	plan := &types.OrderPlan{
		UserID:            user.ID,
		Email:             user.Email,
		Groups:            groups,
		SubtotalCents:     subtotal,
		ShippingAddressID: input.ShippingAddressID,
	}

	if input.CouponCode != "" {
		eval, err := b.coupons.Evaluate(ctx, user.ID, input.CouponCode)
		if err != nil {
			return nil, err
		}
		plan.Coupon = &eval.Snapshot
		plan.DiscountCents = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(int64(eval.DiscountPercent))).
			Div(decimal.NewFromInt(100)).
			IntPart()
	}

	plan.ShippingFeeCents = b.shippingFee(user, len(groups))
	plan.TotalCents = plan.SubtotalCents - plan.DiscountCents + plan.ShippingFeeCents
	return plan, nil
}

func (b *PlanBuilder) shippingFee(user *models.User, groupCount int) int64 {
	if b.shipping.FreeForMembers && user.IsMember {
		return 0
	}
	fee := b.shipping.FlatFeeCents
	if b.shipping.PerStore {
		fee *= int64(groupCount)
	}
	return fee
}

type cartLine struct {
	productID uuid.UUID
	quantity  int
}

func cartLines(cart types.CartMap) ([]cartLine, []uuid.UUID, error) {
	lines := make([]cartLine, 0, len(cart))
	ids := make([]uuid.UUID, 0, len(cart))
	for raw, quantity := range cart {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid product id %q in cart", raw))
		}
		if quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", id))
		}
		lines = append(lines, cartLine{productID: id, quantity: quantity})
		ids = append(ids, id)
	}
	// Map iteration order is random; sort so the snapshot is deterministic.
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].productID.String() < lines[j].productID.String()
	})
	return lines, ids, nil
}

func groupByStore(lines []cartLine, productsByID map[uuid.UUID]models.Product) ([]types.StoreGroup, int64, error) {
	byStore := make(map[uuid.UUID]*types.StoreGroup)
	var subtotal int64

	for _, line := range lines {
		product, ok := productsByID[line.productID]
		if !ok {
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s no longer exists", line.productID))
		}
		if !product.IsActive {
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is unavailable", line.productID))
		}
		if product.Stock < line.quantity {
			return nil, 0, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("insufficient stock for product %s", line.productID)).
				WithDetails(map[string]any{
					"product_id": product.ID.String(),
					"requested":  line.quantity,
					"available":  product.Stock,
				})
		}

		group, ok := byStore[product.StoreID]
		if !ok {
			group = &types.StoreGroup{StoreID: product.StoreID}
			byStore[product.StoreID] = group
		}

		lineSubtotal := product.PriceCents * int64(line.quantity)
		group.Items = append(group.Items, types.PlanItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       line.quantity,
			UnitPriceCents: product.PriceCents,
			SubtotalCents:  lineSubtotal,
		})
		group.SubtotalCents += lineSubtotal
		subtotal += lineSubtotal
	}

	groups := make([]types.StoreGroup, 0, len(byStore))
	for _, group := range byStore {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].StoreID.String() < groups[j].StoreID.String()
	})
	return groups, subtotal, nil
}

func (b *PlanBuilder) attachStores(ctx context.Context, groups []types.StoreGroup) error {
	ids := make([]uuid.UUID, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.StoreID)
	}

	storesByID, err := b.stores.FindByIDs(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart stores")
	}
	for i := range groups {
		store, ok := storesByID[groups[i].StoreID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("store %s no longer exists", groups[i].StoreID))
		}
		if !store.IsActive {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("store %s is not accepting orders", groups[i].StoreID))
		}
		groups[i].StoreName = store.Name
		groups[i].SellerID = store.OwnerID
	}
	return nil
}
