package payments

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestStripeVerifyWebhookCompleted(t *testing.T) {
	p := NewStripeProvider("sk_test_unused", testWebhookSecret)
	header, body := signed(t, `{
		"id": "evt_123",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_1", "object": "checkout.session", "metadata": {"orderId": "order-1"}}}
	}`)

	ev, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.ID)
	assert.Equal(t, EventCheckoutCompleted, ev.Type)
	assert.Equal(t, "cs_test_1", ev.SessionID)
	assert.Equal(t, "order-1", ev.OrderID)
}

func TestStripeVerifyWebhookOtherType(t *testing.T) {
	p := NewStripeProvider("sk_test_unused", testWebhookSecret)
	header, body := signed(t, `{"id": "evt_9", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	ev, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Empty(t, ev.SessionID)
}

func TestStripeVerifyWebhookBadSignature(t *testing.T) {
	p := NewStripeProvider("sk_test_unused", testWebhookSecret)
	_, body := signed(t, `{"id": "evt_1", "object": "event", "type": "checkout.session.completed", "data": {"object": {}}}`)

	_, err := p.VerifyWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, orders.ErrInvalidSignature)

	_, err = p.VerifyWebhook([]byte(`{"tampered":true}`), "")
	assert.ErrorIs(t, err, orders.ErrInvalidSignature)
}
