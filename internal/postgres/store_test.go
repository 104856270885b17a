package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to POSTGRES_TEST_DSN; the tests are skipped without it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, dsn, 16)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return NewStore(pool)
}

func seed(t *testing.T, s *Store, qty int) string {
	t.Helper()
	id := "it-" + uuid.NewString()[:8]
	require.NoError(t, s.SeedProduct(context.Background(), orders.Product{
		ID: id, Name: "Widget", Price: decimal.RequireFromString("19.99"), TrackingEnabled: true,
	}, qty, 2))
	return id
}

func TestPostgresLedgerConcurrentReserve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pid := seed(t, s, 5)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Inventory().Reserve(ctx, pid, 1); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Inventory().Get(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, 0, rec.Quantity)

	_, err = s.Inventory().Reserve(ctx, pid, 1)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestPostgresOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pid := seed(t, s, 10)
	cat := NewCatalog(s.DB)

	p, err := cat.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("19.99")))

	now := time.Now().UTC().Truncate(time.Microsecond)
	o := &orders.Order{
		ID:             uuid.NewString(),
		Number:         orders.NewOrderNumber(now),
		UserID:         "u-" + uuid.NewString()[:8],
		Status:         orders.StatusPending,
		Items:          []orders.OrderLine{{ProductID: pid, ProductName: p.Name, Quantity: 2, PriceAtPurchase: p.Price, Reserved: true}},
		Total:          decimal.RequireFromString("39.98"),
		IdempotencyKey: "key-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].PriceAtPurchase.Equal(p.Price))
	assert.True(t, got.Items[0].Reserved)
	assert.True(t, got.Total.Equal(o.Total))

	dup := *o
	dup.ID = uuid.NewString()
	dup.Number = orders.NewOrderNumber(now)
	err = s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.InsertOrder(ctx, &dup) })
	assert.ErrorIs(t, err, orders.ErrDuplicate)

	byKey, err := s.FindOrderByIdempotencyKey(ctx, o.UserID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byKey.ID)

	pay := &orders.Payment{ID: uuid.NewString(), OrderID: o.ID, ProviderSessionID: "cs_" + uuid.NewString(),
		Amount: o.Total, Status: orders.PaymentPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.InsertPayment(ctx, pay) }))

	gotPay, err := s.GetPaymentBySession(ctx, pay.ProviderSessionID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, gotPay.OrderID)
	assert.Equal(t, orders.PaymentPending, gotPay.Status)
}

func TestPostgresMissingRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrder(ctx, uuid.NewString())
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	_, err = s.GetPaymentBySession(ctx, "cs_missing")
	assert.ErrorIs(t, err, orders.ErrPaymentNotFound)
	_, err = s.Inventory().Get(ctx, "no-such-product")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestRowID(t *testing.T) {
	id := uuid.NewString()
	got, ok := rowID(strings.ToUpper(id))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "missing", "1; DROP TABLE orders", id + "x"} {
		_, ok := rowID(bad)
		assert.False(t, ok, bad)
	}
}

func TestPostgresMalformedIDsAreNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrder(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	_, err = s.GetPaymentByOrder(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, orders.ErrPaymentNotFound)
	err = s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, lerr := tx.LockOrder(ctx, "not-a-uuid")
		return lerr
	})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func newTestEngine(s *Store) *orders.Engine {
	return &orders.Engine{Store: s, Catalog: NewCatalog(s.DB), Authz: orders.NewRoleAuthorizer()}
}

func TestPostgresProductWithoutLedgerRowIsNotSold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pid := "it-" + uuid.NewString()[:8]
	_, err := s.DB.Exec(ctx, `INSERT INTO products(id, name, price) VALUES ($1, 'Loose item', 5.00)`, pid)
	require.NoError(t, err)

	p, err := NewCatalog(s.DB).GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.True(t, p.TrackingEnabled)

	actor := orders.Actor{UserID: "u-" + uuid.NewString()[:8], Role: orders.RoleCustomer}
	_, _, err = newTestEngine(s).CreateOrder(ctx, actor, orders.CheckoutRequest{
		Items: []orders.LineInput{{ProductID: pid, Quantity: 1}},
	})
	assert.ErrorIs(t, err, orders.ErrProductNotFound)
	list, err := s.ListOrdersByUser(ctx, actor.UserID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgresOppositeOrderCartsDoNotDeadlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, b := seed(t, s, 100), seed(t, s, 100)
	eng := newTestEngine(s)

	const n = 20
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		items := []orders.LineInput{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := orders.Actor{UserID: "u-" + uuid.NewString()[:8], Role: orders.RoleCustomer}
			_, _, err := eng.CreateOrder(ctx, actor, orders.CheckoutRequest{Items: items})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	for _, pid := range []string{a, b} {
		rec, err := s.Inventory().Get(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, 100-n, rec.Quantity)
	}
}
