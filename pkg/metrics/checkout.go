package metrics

import "github.com/prometheus/client_golang/prometheus"

// CheckoutMetrics tracks the payment-to-fulfillment pipeline.
type CheckoutMetrics struct {
	sessionsInitialized prometheus.Counter
	sessionsCompleted   *prometheus.CounterVec
	ordersCreated       prometheus.Counter
	stockShortfalls     prometheus.Counter
	webhookEvents       *prometheus.CounterVec
	escrowTransitions   *prometheus.CounterVec
}

// NewCheckoutMetrics registers the pipeline metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	sessionsInitialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_sessions_initialized_total",
		Help: "Payment sessions created at checkout.",
	})
	sessionsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_sessions_finished_total",
		Help: "Payment sessions that left the pending state.",
	}, []string{"status"})
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created during fulfillment.",
	})
	stockShortfalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_shortfalls_total",
		Help: "Fulfillment attempts that found insufficient stock.",
	})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_events_total",
		Help: "Webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})
	escrowTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Escrow state transitions by target state.",
	}, []string{"to"})

	reg.MustRegister(
		sessionsInitialized,
		sessionsCompleted,
		ordersCreated,
		stockShortfalls,
		webhookEvents,
		escrowTransitions,
	)
	return &CheckoutMetrics{
		sessionsInitialized: sessionsInitialized,
		sessionsCompleted:   sessionsCompleted,
		ordersCreated:       ordersCreated,
		stockShortfalls:     stockShortfalls,
		webhookEvents:       webhookEvents,
		escrowTransitions:   escrowTransitions,
	}
}

// IncSessionInitialized counts a new payment session.
func (m *CheckoutMetrics) IncSessionInitialized() {
	if m == nil || m.sessionsInitialized == nil {
		return
	}
	m.sessionsInitialized.Inc()
}

// IncSessionFinished counts a session leaving pending with its final status.
func (m *CheckoutMetrics) IncSessionFinished(status string) {
	if m == nil || m.sessionsCompleted == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(normalizeLabel(status)).Inc()
}

// AddOrdersCreated counts orders produced by one fulfillment run.
func (m *CheckoutMetrics) AddOrdersCreated(n int) {
	if m == nil || m.ordersCreated == nil || n <= 0 {
		return
	}
	m.ordersCreated.Add(float64(n))
}

// IncStockShortfall counts a conditional stock decrement that found fewer
// units than requested.
func (m *CheckoutMetrics) IncStockShortfall() {
	if m == nil || m.stockShortfalls == nil {
		return
	}
	m.stockShortfalls.Inc()
}

// IncWebhookEvent counts a webhook delivery outcome.
func (m *CheckoutMetrics) IncWebhookEvent(event, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// IncEscrowTransition counts a successful escrow transition.
func (m *CheckoutMetrics) IncEscrowTransition(to string) {
	if m == nil || m.escrowTransitions == nil {
		return
	}
	m.escrowTransitions.WithLabelValues(normalizeLabel(to)).Inc()
}
