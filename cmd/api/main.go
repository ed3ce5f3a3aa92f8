package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bopmarket/backend/api/routes"
	"github.com/bopmarket/backend/internal/cart"
	"github.com/bopmarket/backend/internal/coupons"
	"github.com/bopmarket/backend/internal/escrow"
	"github.com/bopmarket/backend/internal/fulfillment"
	"github.com/bopmarket/backend/internal/notifications"
	"github.com/bopmarket/backend/internal/orders"
	"github.com/bopmarket/backend/internal/payments"
	"github.com/bopmarket/backend/internal/products"
	"github.com/bopmarket/backend/internal/stores"
	"github.com/bopmarket/backend/internal/users"
	paystackwebhook "github.com/bopmarket/backend/internal/webhooks/paystack"
	"github.com/bopmarket/backend/pkg/config"
	"github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/metrics"
	"github.com/bopmarket/backend/pkg/migrate"
	"github.com/bopmarket/backend/pkg/outbox"
	"github.com/bopmarket/backend/pkg/paystack"
	"github.com/bopmarket/backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	storesRepo := stores.NewRepository(conn)
	productsRepo := products.NewRepository(conn)
	couponsRepo := coupons.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)
	paymentsRepo := payments.NewRepository(conn)
	escrowRepo := escrow.NewRepository(conn)
	notificationsRepo := notifications.NewRepository(conn)

	registry := prometheus.NewRegistry()
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	paystackClient, err := paystack.NewClient(context.Background(), cfg.Paystack, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}

	cartSvc, err := cart.NewService(usersRepo, productsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	couponsSvc, err := coupons.NewService(couponsRepo, usersRepo, ordersRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create coupons service", err)
		os.Exit(1)
	}

	planBuilder, err := payments.NewPlanBuilder(usersRepo, productsRepo, storesRepo, couponsSvc, cfg.Shipping)
	if err != nil {
		logg.Error(context.Background(), "failed to create plan builder", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		TxRunner:        dbClient,
		Repo:            paymentsRepo,
		Builder:         planBuilder,
		Gateway:         paystackClient,
		Metrics:         checkoutMetrics,
		Logger:          logg,
		SessionTTL:      cfg.Checkout.SessionTTL,
		ReferencePrefix: cfg.Checkout.ReferencePrefix,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(ordersRepo, storesRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	escrowSvc, err := escrow.NewService(escrow.ServiceParams{
		TxRunner: dbClient,
		Repo:     escrowRepo,
		Orders:   ordersRepo,
		Outbox:   outboxSvc,
		Metrics:  checkoutMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	notificationsSvc, err := notifications.NewService(notificationsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	engine, err := fulfillment.NewEngine(fulfillment.EngineParams{
		TxRunner: dbClient,
		Sessions: paymentsRepo,
		Orders:   ordersRepo,
		Products: productsRepo,
		Users:    usersRepo,
		Escrows:  escrowRepo,
		Outbox:   outboxSvc,
		Verifier: paystackClient,
		Metrics:  checkoutMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment engine", err)
		os.Exit(1)
	}

	guard, err := paystackwebhook.NewIdempotencyGuard(redisClient, cfg.Checkout.WebhookDedupeTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	webhookSvc, err := paystackwebhook.NewService(paystackwebhook.ServiceParams{
		SecretKey: cfg.Paystack.SecretKey,
		Guard:     guard,
		Engine:    engine,
		Metrics:   checkoutMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Registry:       registry,
			Cart:           cartSvc,
			Coupons:        couponsSvc,
			Payments:       paymentsSvc,
			Fulfillment:    engine,
			Orders:         ordersSvc,
			Escrow:         escrowSvc,
			Notifications:  notificationsSvc,
			PaystackEvents: webhookSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
