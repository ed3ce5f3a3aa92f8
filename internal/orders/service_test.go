package orders

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bopmarket/backend/internal/stores"
	"github.com/bopmarket/backend/pkg/db/models"
	"github.com/bopmarket/backend/pkg/enums"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/pagination"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Store{}, &models.Order{}, &models.OrderItem{}))
	return conn
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	svc, err := NewService(NewRepository(db), stores.NewRepository(db), logg)
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, db *gorm.DB, buyerID, storeID, sellerID uuid.UUID) *models.Order {
	t.Helper()
	order := &models.Order{
		PaymentReference: fmt.Sprintf("BOP_test_%s", uuid.NewString()),
		StoreID:          storeID,
		BuyerID:          buyerID,
		SellerID:         sellerID,
		Status:           enums.OrderPlaced,
		SubtotalCents:    500000,
		TotalCents:       500000,
		Items: []models.OrderItem{{
			ProductID:      uuid.New(),
			ProductName:    "test product",
			Quantity:       1,
			UnitPriceCents: 500000,
			SubtotalCents:  500000,
		}},
	}
	require.NoError(t, NewRepository(db).Create(context.Background(), order))
	return order
}

func TestGetEnforcesOwnership(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	buyerID := uuid.New()
	sellerID := uuid.New()
	order := seedOrder(t, db, buyerID, uuid.New(), sellerID)

	got, err := svc.Get(ctx, buyerID, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)
	require.Len(t, got.Items, 1)

	got, err = svc.Get(ctx, sellerID, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)

	_, err = svc.Get(ctx, uuid.New(), order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestGetUnknownOrder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.Get(context.Background(), uuid.New(), uuid.New())
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestListForBuyerPaginates(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	buyerID := uuid.New()
	for i := 0; i < 3; i++ {
		seedOrder(t, db, buyerID, uuid.New(), uuid.New())
	}
	seedOrder(t, db, uuid.New(), uuid.New(), uuid.New())

	page, err := svc.ListForBuyer(ctx, buyerID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)

	rest, err := svc.ListForBuyer(ctx, buyerID, pagination.Params{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.Cursor)
}

func TestListForStoreRequiresOwnership(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	ownerID := uuid.New()
	store := &models.Store{Name: "test store", OwnerID: ownerID, IsActive: true}
	require.NoError(t, stores.NewRepository(db).Create(ctx, store))
	seedOrder(t, db, uuid.New(), store.ID, ownerID)

	page, err := svc.ListForStore(ctx, ownerID, store.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	_, err = svc.ListForStore(ctx, uuid.New(), store.ID, pagination.Params{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCountByBuyer(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	buyerID := uuid.New()
	seedOrder(t, db, buyerID, uuid.New(), uuid.New())
	seedOrder(t, db, buyerID, uuid.New(), uuid.New())

	count, err := repo.CountByBuyer(ctx, buyerID)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	count, err = repo.CountByBuyer(ctx, uuid.New())
	require.NoError(t, err)
	require.Zero(t, count)
}
