package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bopmarket/backend/api/controllers"
	webhookcontrollers "github.com/bopmarket/backend/api/controllers/webhooks"
	"github.com/bopmarket/backend/api/middleware"
	"github.com/bopmarket/backend/internal/cart"
	"github.com/bopmarket/backend/internal/coupons"
	"github.com/bopmarket/backend/internal/escrow"
	"github.com/bopmarket/backend/internal/fulfillment"
	"github.com/bopmarket/backend/internal/notifications"
	"github.com/bopmarket/backend/internal/orders"
	"github.com/bopmarket/backend/internal/payments"
	paystackwebhook "github.com/bopmarket/backend/internal/webhooks/paystack"
	"github.com/bopmarket/backend/pkg/config"
	"github.com/bopmarket/backend/pkg/db"
	"github.com/bopmarket/backend/pkg/logger"
)

// RouterParams collects everything the HTTP surface needs. Nil optional
// fields disable their routes gracefully via the controllers' guards.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    db.Pinger
	Registry *prometheus.Registry

	Cart           cart.Service
	Coupons        coupons.Service
	Payments       payments.Service
	Fulfillment    *fulfillment.Engine
	Orders         orders.Service
	Escrow         escrow.Service
	Notifications  notifications.Service
	PaystackEvents *paystackwebhook.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", webhookcontrollers.PaystackWebhook(params.PaystackEvents, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(params.Cart, logg))
			r.Post("/", controllers.CartReplace(params.Cart, logg))
			r.Delete("/", controllers.CartClear(params.Cart, logg))
		})

		r.Post("/coupons/validate", controllers.CouponValidate(params.Coupons, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/initialize", controllers.PaymentInitialize(params.Payments, params.Cart, logg))
			r.Post("/verify", controllers.PaymentVerify(params.Fulfillment, logg))
			r.Get("/status", controllers.PaymentStatus(params.Payments, logg))
			r.Get("/", controllers.PaymentList(params.Payments, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(params.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(params.Orders, logg))
		})

		r.Get("/stores/{storeId}/orders", controllers.StoreOrderList(params.Orders, logg))

		r.Route("/escrow", func(r chi.Router) {
			r.Get("/sales", controllers.EscrowListSales(params.Escrow, logg))
			r.Get("/purchases", controllers.EscrowListPurchases(params.Escrow, logg))
			r.Get("/{orderId}", controllers.EscrowGet(params.Escrow, logg))
			r.Patch("/{orderId}", controllers.EscrowTransition(params.Escrow, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(params.Notifications, logg))
			r.Patch("/{notificationId}", controllers.MarkNotificationRead(params.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(params.Notifications, logg))
		})
	})

	return r
}
