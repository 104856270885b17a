package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Checkout        *prometheus.CounterVec   // checkout_total{outcome}
	Cancel          *prometheus.CounterVec   // order_cancel_total{outcome}
	StatusUpdate    *prometheus.CounterVec   // order_status_update_total{outcome}
	PaymentSessions *prometheus.CounterVec   // payment_sessions_total{outcome}
	WebhookEvents   *prometheus.CounterVec   // webhook_events_total{type,outcome}
	LowStock        prometheus.Counter       // inventory_low_stock_total
	HTTPDuration    *prometheus.HistogramVec // http_request_duration_seconds{method,route,code}
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		Cancel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_cancel_total",
			Help: "Order cancellations by outcome.",
		}, []string{"outcome"}),
		StatusUpdate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_update_total",
			Help: "Administrative status updates by outcome.",
		}, []string{"outcome"}),
		PaymentSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_sessions_total",
			Help: "Hosted checkout sessions opened by outcome.",
		}, []string{"outcome"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Payment provider webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		LowStock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_low_stock_total",
			Help: "Reservations that left a product at or below its low stock threshold.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Checkout, m.Cancel, m.StatusUpdate, m.PaymentSessions, m.WebhookEvents, m.LowStock, m.HTTPDuration)
	}
	return m
}

func (m *Metrics) IncCheckout(outcome string) {
	if m != nil {
		m.Checkout.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncCancel(outcome string) {
	if m != nil {
		m.Cancel.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncStatusUpdate(outcome string) {
	if m != nil {
		m.StatusUpdate.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncPaymentSession(outcome string) {
	if m != nil {
		m.PaymentSessions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncWebhook(eventType, outcome string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) IncLowStock() {
	if m != nil {
		m.LowStock.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route, code string, seconds float64) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, code).Observe(seconds)
	}
}
