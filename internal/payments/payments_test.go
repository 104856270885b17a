package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/memory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validSig = "valid"

type fakeProvider struct {
	mu    sync.Mutex
	n     int
	last  SessionRequest
	block bool
	err   error
}

func (f *fakeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if f.block {
		<-ctx.Done()
		return Session{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Session{}, f.err
	}
	f.n++
	f.last = req
	id := "cs_" + string(rune('0'+f.n))
	return Session{ID: id, URL: "https://pay.example.com/" + id}, nil
}

func (f *fakeProvider) VerifyWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if signature != validSig {
		return WebhookEvent{}, orders.ErrInvalidSignature
	}
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, err
	}
	return ev, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, _, _, eventType string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	store    *memory.Store
	catalog  *memory.Catalog
	engine   *orders.Engine
	gateway  *Gateway
	recon    *Reconciler
	provider *fakeProvider
	events   *recordingPublisher
	owner    orders.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	catalog := memory.NewCatalog()
	catalog.Put(orders.Product{ID: "P1", Name: "Mug", Price: decimal.RequireFromString("10.00"), TrackingEnabled: true})
	store.PutRecord(inventory.Record{ProductID: "P1", Quantity: 5, TrackingEnabled: true})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	events := &recordingPublisher{}
	authz := orders.NewRoleAuthorizer()
	engine := &orders.Engine{Store: store, Catalog: catalog, Authz: authz, Events: events, Log: zap.NewNop(), Service: "test"}
	provider := &fakeProvider{}
	return &fixture{
		store:    store,
		catalog:  catalog,
		engine:   engine,
		provider: provider,
		events:   events,
		owner:    orders.Actor{UserID: "u1", Role: orders.RoleCustomer},
		gateway: &Gateway{
			Store: store, Provider: provider, Authz: authz,
			Currency: "usd", FrontendURL: "https://shop.example.com", Timeout: time.Second, Log: zap.NewNop(),
		},
		recon: &Reconciler{
			Store: store, Engine: engine, Provider: provider,
			Dedup: redisx.NewDedup(rdb, time.Hour), Log: zap.NewNop(),
		},
	}
}

func (f *fixture) order(t *testing.T, qty int) *orders.Order {
	t.Helper()
	o, _, err := f.engine.CreateOrder(context.Background(), f.owner, orders.CheckoutRequest{
		Items: []orders.LineInput{{ProductID: "P1", Quantity: qty}},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) deliver(t *testing.T, ev WebhookEvent) (Ack, error) {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return f.recon.HandleEvent(context.Background(), b, validSig)
}

func TestCheckoutSessionUsesFrozenPrices(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, 2)
	f.catalog.SetPrice("P1", decimal.RequireFromString("99.00"))

	cs, err := f.gateway.CreateCheckoutSession(context.Background(), f.owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", cs.SessionID)
	assert.NotEmpty(t, cs.RedirectURL)
	assert.NotEmpty(t, cs.PaymentID)

	req := f.provider.last
	assert.Equal(t, o.ID, req.OrderID)
	assert.Equal(t, "https://shop.example.com/orders/"+o.ID+"/success", req.SuccessURL)
	assert.Equal(t, "https://shop.example.com/orders/"+o.ID+"/cancel", req.CancelURL)
	require.Len(t, req.Lines, 1)
	assert.Equal(t, int64(1000), req.Lines[0].UnitAmount)
	assert.Equal(t, int64(2), req.Lines[0].Quantity)

	p, err := f.store.GetPaymentByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, p.Status)
	assert.Equal(t, "cs_1", p.ProviderSessionID)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("20.00")))
}

func TestCheckoutSessionRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)

	_, err := f.gateway.CreateCheckoutSession(ctx, orders.Actor{UserID: "intruder", Role: orders.RoleCustomer}, o.ID)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	_, err = f.gateway.CreateCheckoutSession(ctx, f.owner, "missing")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.engine.CancelOrder(ctx, f.owner, o.ID)
	require.NoError(t, err)
	_, err = f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	assert.ErrorIs(t, err, orders.ErrOrderNotPending)
	assert.Equal(t, 0, f.provider.n)
}

func TestCheckoutSessionAlreadyPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertPayment(ctx, &orders.Payment{ID: "pay-1", OrderID: o.ID, ProviderSessionID: "cs_old", Status: orders.PaymentSuccess})
	}))

	_, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	assert.ErrorIs(t, err, orders.ErrAlreadyPaid)
	assert.Equal(t, 0, f.provider.n)
}

func TestCheckoutSessionProviderTimeoutWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)
	f.provider.block = true
	f.gateway.Timeout = 20 * time.Millisecond

	_, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.ErrorIs(t, err, orders.ErrProviderFailure)
	assert.Equal(t, orders.KindInfrastructure, orders.KindOf(err))

	_, err = f.store.GetPaymentByOrder(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrPaymentNotFound)
}

func TestCheckoutSessionProviderError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)
	f.provider.err = errors.New("provider down")

	_, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	assert.ErrorIs(t, err, orders.ErrProviderFailure)
	_, err = f.store.GetPaymentByOrder(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrPaymentNotFound)
}

func TestWebhookCompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 2)
	cs, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.NoError(t, err)

	ev := WebhookEvent{ID: "evt_1", Type: EventCheckoutCompleted, SessionID: cs.SessionID, OrderID: o.ID}
	for i := 0; i < 2; i++ {
		ack, err := f.deliver(t, ev)
		require.NoError(t, err)
		assert.True(t, ack.Received)
	}

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
	p, err := f.store.GetPaymentBySession(ctx, cs.SessionID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentSuccess, p.Status)
	assert.Equal(t, 1, f.events.count(orders.EventOrderPaid))
	assert.Equal(t, 1, f.events.count(orders.EventOrderStatusChanged))

	// a redelivery under a new event id still finds the payment settled
	ev.ID = "evt_2"
	_, err = f.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(orders.EventOrderPaid))
}

func TestWebhookCompletedWithoutDedup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recon.Dedup = nil
	o := f.order(t, 1)
	cs, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.NoError(t, err)

	ev := WebhookEvent{ID: "evt_1", Type: EventCheckoutCompleted, SessionID: cs.SessionID}
	for i := 0; i < 3; i++ {
		_, err := f.deliver(t, ev)
		require.NoError(t, err)
	}
	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, 1, f.events.count(orders.EventOrderPaid))
}

func TestWebhookExpiredMarksPaymentFailedAndKeepsStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 2)
	cs, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.NoError(t, err)

	ack, err := f.deliver(t, WebhookEvent{ID: "evt_x", Type: EventCheckoutExpired, SessionID: cs.SessionID})
	require.NoError(t, err)
	assert.True(t, ack.Received)

	p, _ := f.store.GetPaymentByOrder(ctx, o.ID)
	assert.Equal(t, orders.PaymentFailed, p.Status)
	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	rec, _ := f.store.Inventory().Get(ctx, "P1")
	assert.Equal(t, 3, rec.Quantity)
	assert.Equal(t, 1, f.events.count(orders.EventPaymentFailed))

	// a new session reopens the same payment row
	cs2, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.NoError(t, err)
	assert.Equal(t, cs.PaymentID, cs2.PaymentID)
	p, _ = f.store.GetPaymentByOrder(ctx, o.ID)
	assert.Equal(t, orders.PaymentPending, p.Status)
	assert.Equal(t, cs2.SessionID, p.ProviderSessionID)

	// the stale expiry for the old session no longer correlates
	_, err = f.deliver(t, WebhookEvent{ID: "evt_y", Type: EventCheckoutExpired, SessionID: cs.SessionID})
	require.NoError(t, err)
	p, _ = f.store.GetPaymentByOrder(ctx, o.ID)
	assert.Equal(t, orders.PaymentPending, p.Status)
}

func TestWebhookIgnoresUnknownTypeAndSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)

	ack, err := f.deliver(t, WebhookEvent{ID: "evt_1", Type: "invoice.created"})
	require.NoError(t, err)
	assert.True(t, ack.Received)

	ack, err = f.deliver(t, WebhookEvent{ID: "evt_2", Type: EventCheckoutCompleted, SessionID: "cs_unknown", OrderID: o.ID})
	require.NoError(t, err)
	assert.True(t, ack.Received)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ack, err := f.recon.HandleEvent(context.Background(), []byte(`{}`), "forged")
	assert.ErrorIs(t, err, orders.ErrInvalidSignature)
	assert.False(t, ack.Received)
}

func TestWebhookCompletedAfterCancelKeepsOrderCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)
	cs, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelOrder(ctx, f.owner, o.ID)
	require.NoError(t, err)

	ack, err := f.deliver(t, WebhookEvent{ID: "evt_1", Type: EventCheckoutCompleted, SessionID: cs.SessionID})
	require.NoError(t, err)
	assert.True(t, ack.Received)

	got, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	p, _ := f.store.GetPaymentByOrder(ctx, o.ID)
	assert.Equal(t, orders.PaymentSuccess, p.Status)
	assert.Equal(t, 0, f.events.count(orders.EventOrderPaid))
}

func TestPaymentStatsAdminOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.order(t, 1)
	_, err := f.gateway.CreateCheckoutSession(ctx, f.owner, o.ID)
	require.NoError(t, err)

	_, err = f.gateway.Stats(ctx, f.owner)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	st, err := f.gateway.Stats(ctx, orders.Actor{UserID: "admin", Role: orders.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentStats{Total: 1, Pending: 1}, st)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1001), MinorUnits(decimal.RequireFromString("10.005")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}
