package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncCheckout("success")
	m.IncCheckout("success")
	m.IncCheckout("conflict")
	m.IncWebhook("checkout.session.completed", "applied")
	m.IncLowStock()

	require.Equal(t, 2.0, testutil.ToFloat64(m.Checkout.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Checkout.WithLabelValues("conflict")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("checkout.session.completed", "applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LowStock))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncCheckout("success")
	m.IncCancel("success")
	m.IncStatusUpdate("success")
	m.IncPaymentSession("success")
	m.IncWebhook("x", "ignored")
	m.IncLowStock()
	m.ObserveHTTP("GET", "/", "200", 0.1)
}
