package payments

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/internal/coupons"
	"github.com/bopmarket/backend/internal/orders"
	"github.com/bopmarket/backend/internal/products"
	"github.com/bopmarket/backend/internal/stores"
	"github.com/bopmarket/backend/internal/users"
	"github.com/bopmarket/backend/pkg/config"
	dbpkg "github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/paystack"
	"github.com/bopmarket/backend/pkg/types"
)

type stubGateway struct {
	calls  []paystack.InitializeParams
	err    error
	result *paystack.InitializeResult
}

func (g *stubGateway) Initialize(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error) {
	g.calls = append(g.calls, params)
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.test/" + params.Reference,
		AccessCode:       "ac_" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

type fixture struct {
	db      *gorm.DB
	svc     Service
	gateway *stubGateway
	user    *models.User
	product *models.Product
	store   *models.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.User{}, &models.Store{}, &models.Product{}, &models.Coupon{},
		&models.Order{}, &models.OrderItem{}, &models.PaymentSession{},
	))

	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})

	usersRepo := users.NewRepository(conn)
	productsRepo := products.NewRepository(conn)
	storesRepo := stores.NewRepository(conn)
	couponsSvc, err := coupons.NewService(coupons.NewRepository(conn), usersRepo, orders.NewRepository(conn), logg)
	require.NoError(t, err)

	builder, err := NewPlanBuilder(usersRepo, productsRepo, storesRepo, couponsSvc, config.ShippingConfig{
		FlatFeeCents: 150000,
	})
	require.NoError(t, err)

	gw := &stubGateway{}
	svc, err := NewService(ServiceParams{
		TxRunner:        dbpkg.NewWithConn(conn),
		Repo:            NewRepository(conn),
		Builder:         builder,
		Gateway:         gw,
		Logger:          logg,
		SessionTTL:      30 * time.Minute,
		ReferencePrefix: "BOP",
	})
	require.NoError(t, err)

	owner := uuid.New()
	store := &models.Store{ID: uuid.New(), Name: "Lagos Vinyl", OwnerID: owner, IsActive: true}
	require.NoError(t, conn.Create(store).Error)

	product := &models.Product{
		ID:         uuid.New(),
		StoreID:    store.ID,
		Name:       "limited pressing",
		PriceCents: 500000,
		Stock:      5,
		IsActive:   true,
	}
	require.NoError(t, conn.Create(product).Error)

	user := &models.User{
		ID:        uuid.New(),
		Email:     "buyer@example.com",
		FirstName: "Bisi",
		LastName:  "Ade",
		IsActive:  true,
		Cart:      types.CartMap{product.ID.String(): 2},
	}
	require.NoError(t, conn.Create(user).Error)

	return &fixture{db: conn, svc: svc, gateway: gw, user: user, product: product, store: store}
}

func TestInitializeCreatesSessionAndCallsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Initialize(ctx, InitializeInput{UserID: f.user.ID})
	require.NoError(t, err)
	require.NotEmpty(t, result.Reference)
	require.Contains(t, result.Reference, "BOP_")
	require.Equal(t, int64(2*500000+150000), result.AmountCents)
	require.NotEmpty(t, result.AuthorizationURL)

	require.Len(t, f.gateway.calls, 1)
	require.Equal(t, result.Reference, f.gateway.calls[0].Reference)
	require.Equal(t, "buyer@example.com", f.gateway.calls[0].Email)
	require.Equal(t, result.AmountCents, f.gateway.calls[0].AmountCents)

	var session models.PaymentSession
	require.NoError(t, f.db.First(&session, "reference = ?", result.Reference).Error)
	require.Equal(t, enums.PaymentSessionPending, session.Status)
	require.Equal(t, f.user.ID, session.Plan.UserID)
	require.Len(t, session.Plan.Groups, 1)
	require.Equal(t, f.store.ID, session.Plan.Groups[0].StoreID)
	require.NotNil(t, session.AuthorizationURL)
}

func TestInitializeEmptyCart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.user.ID).Update("cart", types.CartMap{}).Error)

	_, err := f.svc.Initialize(context.Background(), InitializeInput{UserID: f.user.ID})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	require.Empty(t, f.gateway.calls)
}

func TestInitializeInsufficientStock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", f.product.ID).Update("stock", 1).Error)

	_, err := f.svc.Initialize(context.Background(), InitializeInput{UserID: f.user.ID})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestInitializeGatewayFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeDependency, "gateway down")

	_, err := f.svc.Initialize(context.Background(), InitializeInput{UserID: f.user.ID})
	require.Error(t, err)

	var session models.PaymentSession
	require.NoError(t, f.db.First(&session, "user_id = ?", f.user.ID).Error)
	require.Equal(t, enums.PaymentSessionFailed, session.Status)
	require.NotNil(t, session.FailureReason)
}

func TestInitializeAppliesCoupon(t *testing.T) {
	f := newFixture(t)
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            "save10",
		DiscountPercent: 10,
		IsActive:        true,
	}
	require.NoError(t, f.db.Create(coupon).Error)

	result, err := f.svc.Initialize(context.Background(), InitializeInput{
		UserID:     f.user.ID,
		CouponCode: "SAVE10",
	})
	require.NoError(t, err)

	subtotal := int64(2 * 500000)
	discount := subtotal / 10
	require.Equal(t, subtotal-discount+150000, result.AmountCents)

	var session models.PaymentSession
	require.NoError(t, f.db.First(&session, "reference = ?", result.Reference).Error)
	require.NotNil(t, session.Plan.Coupon)
	require.Equal(t, "save10", session.Plan.Coupon.Code)
}

func TestPlanBuilderShippingFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherOwner := uuid.New()
	otherStore := &models.Store{ID: uuid.New(), Name: "Abuja Tapes", OwnerID: otherOwner, IsActive: true}
	require.NoError(t, f.db.Create(otherStore).Error)
	otherProduct := &models.Product{
		ID:         uuid.New(),
		StoreID:    otherStore.ID,
		Name:       "cassette",
		PriceCents: 100000,
		Stock:      3,
		IsActive:   true,
	}
	require.NoError(t, f.db.Create(otherProduct).Error)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.user.ID).
		Update("cart", types.CartMap{
			f.product.ID.String():    1,
			otherProduct.ID.String(): 1,
		}).Error)

	usersRepo := users.NewRepository(f.db)
	productsRepo := products.NewRepository(f.db)
	storesRepo := stores.NewRepository(f.db)
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	couponsSvc, err := coupons.NewService(coupons.NewRepository(f.db), usersRepo, orders.NewRepository(f.db), logg)
	require.NoError(t, err)

	perStore, err := NewPlanBuilder(usersRepo, productsRepo, storesRepo, couponsSvc, config.ShippingConfig{
		FlatFeeCents: 150000,
		PerStore:     true,
	})
	require.NoError(t, err)

	plan, err := perStore.Build(ctx, BuildInput{UserID: f.user.ID})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 2)
	require.Equal(t, int64(300000), plan.ShippingFeeCents, "per-store fee multiplies by group count")
	require.Equal(t, plan.SubtotalCents+300000, plan.TotalCents)

	waived, err := NewPlanBuilder(usersRepo, productsRepo, storesRepo, couponsSvc, config.ShippingConfig{
		FlatFeeCents:   150000,
		PerStore:       true,
		FreeForMembers: true,
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.user.ID).Update("is_member", true).Error)

	plan, err = waived.Build(ctx, BuildInput{UserID: f.user.ID})
	require.NoError(t, err)
	require.Zero(t, plan.ShippingFeeCents, "members ship free when the waiver is on")
}

func TestStatusEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Initialize(ctx, InitializeInput{UserID: f.user.ID})
	require.NoError(t, err)

	status, err := f.svc.Status(ctx, f.user.ID, result.Reference)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentSessionPending, status.Status)

	_, err = f.svc.Status(ctx, uuid.New(), result.Reference)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestExpirePendingSweepsOnlyLapsedPending(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.db)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := &models.PaymentSession{
		Reference:   NewReference("BOP", now.Add(-time.Hour)),
		UserID:      f.user.ID,
		Status:      enums.PaymentSessionPending,
		AmountCents: 1000,
		Currency:    enums.CurrencyNGN,
		Plan:        types.OrderPlan{UserID: f.user.ID},
		ExpiresAt:   now.Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, stale))

	fresh := &models.PaymentSession{
		Reference:   NewReference("BOP", now),
		UserID:      f.user.ID,
		Status:      enums.PaymentSessionPending,
		AmountCents: 1000,
		Currency:    enums.CurrencyNGN,
		Plan:        types.OrderPlan{UserID: f.user.ID},
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, fresh))

	candidates, err := repo.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, stale.Reference, candidates[0].Reference)

	won, err := repo.Expire(ctx, stale.Reference)
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.Expire(ctx, stale.Reference)
	require.NoError(t, err)
	require.False(t, won, "expiry is one-shot")

	reloaded, err := repo.FindByReference(ctx, stale.Reference)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentSessionExpired, reloaded.Status)

	reloaded, err = repo.FindByReference(ctx, fresh.Reference)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentSessionPending, reloaded.Status)
}

func TestCompleteIsSingleWinner(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.db)
	ctx := context.Background()

	now := time.Now().UTC()
	session := &models.PaymentSession{
		Reference:   NewReference("BOP", now),
		UserID:      f.user.ID,
		Status:      enums.PaymentSessionPending,
		AmountCents: 1000,
		Currency:    enums.CurrencyNGN,
		Plan:        types.OrderPlan{UserID: f.user.ID},
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, session))

	won, err := repo.Complete(ctx, session.Reference, now)
	require.NoError(t, err)
	require.True(t, won)

	won, err = repo.Complete(ctx, session.Reference, now)
	require.NoError(t, err)
	require.False(t, won, "second completion must lose the conditional update")

	failed, err := repo.Fail(ctx, session.Reference, "late failure")
	require.NoError(t, err)
	require.False(t, failed, "completed session cannot be failed")
}
