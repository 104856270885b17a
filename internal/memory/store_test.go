package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerReserveRelease(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRecord(inventory.Record{ProductID: "p1", Quantity: 5, TrackingEnabled: true})
	led := s.Inventory()

	rec, err := led.Reserve(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Quantity)

	_, err = led.Reserve(ctx, "p1", 3)
	var se *inventory.StockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Requested)
	assert.Equal(t, 2, se.Available)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	rec, err = led.Release(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Quantity)

	_, err = led.Reserve(ctx, "missing", 1)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)

	_, err = led.Reserve(ctx, "p1", 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestLedgerUntrackedIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRecord(inventory.Record{ProductID: "digital", Quantity: 0})

	rec, err := s.Inventory().Reserve(ctx, "digital", 50)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Quantity)
}

func TestLedgerConcurrentReserveNeverOversells(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRecord(inventory.Record{ProductID: "p1", Quantity: 10, TrackingEnabled: true})

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Inventory().Reserve(ctx, "p1", 1); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Inventory().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, 0, rec.Quantity)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutRecord(inventory.Record{ProductID: "p1", Quantity: 4, TrackingEnabled: true})
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, "p1", 4); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, &orders.Order{ID: "o1", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, _ := s.Inventory().Get(ctx, "p1")
	assert.Equal(t, 4, rec.Quantity)
	_, err = s.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestInsertOrderIdempotencyKeyIsUniquePerUser(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	insert := func(o *orders.Order) error {
		return s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.InsertOrder(ctx, o) })
	}

	require.NoError(t, insert(&orders.Order{ID: "o1", UserID: "u1", IdempotencyKey: "k"}))
	assert.ErrorIs(t, insert(&orders.Order{ID: "o2", UserID: "u1", IdempotencyKey: "k"}), orders.ErrDuplicate)
	require.NoError(t, insert(&orders.Order{ID: "o3", UserID: "u2", IdempotencyKey: "k"}))

	got, err := s.FindOrderByIdempotencyKey(ctx, "u1", "k")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)
}

func TestListOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		o := &orders.Order{ID: id, UserID: "u1", Status: orders.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))
	}

	mine, err := s.ListOrdersByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, "c", mine[0].ID)

	page, err := s.ListOrders(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "a", page[1].ID)

	st, err := s.OrderStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Pending)
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	o := &orders.Order{ID: "o1", UserID: "u1", Items: []orders.OrderLine{{ProductID: "p1", Quantity: 1}}}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error { return tx.InsertOrder(ctx, o) }))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	got.Items[0].Quantity = 99

	again, _ := s.GetOrder(ctx, "o1")
	assert.Equal(t, 1, again.Items[0].Quantity)
}
