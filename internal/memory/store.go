package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Store is an in-process orders.Store. Transactions hold a single lock and
// roll back by restoring a snapshot, so every transaction is serialized.
type Store struct {
	mu sync.Mutex
	st *state

	// InsertOrderErr, when set, is returned by Tx.InsertOrder.
	InsertOrderErr error
}

type state struct {
	orders   map[string]*orders.Order
	seq      map[string]int
	next     int
	idem     map[string]string // user_id|key -> order_id
	payments map[string]*orders.Payment
	stock    map[string]inventory.Record
}

func NewStore() *Store {
	return &Store{st: &state{
		orders:   make(map[string]*orders.Order),
		seq:      make(map[string]int),
		idem:     make(map[string]string),
		payments: make(map[string]*orders.Payment),
		stock:    make(map[string]inventory.Record),
	}}
}

func (s *state) clone() *state {
	c := &state{
		orders:   make(map[string]*orders.Order, len(s.orders)),
		seq:      make(map[string]int, len(s.seq)),
		next:     s.next,
		idem:     make(map[string]string, len(s.idem)),
		payments: make(map[string]*orders.Payment, len(s.payments)),
		stock:    make(map[string]inventory.Record, len(s.stock)),
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	for k, v := range s.payments {
		p := *v
		c.payments[k] = &p
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	return c
}

func cloneOrder(o *orders.Order) *orders.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]orders.OrderLine(nil), o.Items...)
	return &c
}

// PutRecord creates or replaces a ledger row.
func (s *Store) PutRecord(rec inventory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.st.stock[rec.ProductID] = rec
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	t := &tx{st: s.st, insertErr: s.InsertOrderErr}
	if err := fn(ctx, t); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Inventory returns a ledger where each call is its own transaction.
func (s *Store) Inventory() inventory.Ledger { return autoLedger{s: s} }

type autoLedger struct{ s *Store }

func (a autoLedger) Reserve(ctx context.Context, productID string, qty int) (rec inventory.Record, err error) {
	err = a.s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		rec, err = tx.Inventory().Reserve(ctx, productID, qty)
		return err
	})
	return rec, err
}

func (a autoLedger) Release(ctx context.Context, productID string, qty int) (rec inventory.Record, err error) {
	err = a.s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		rec, err = tx.Inventory().Release(ctx, productID, qty)
		return err
	})
	return rec, err
}

func (a autoLedger) Get(ctx context.Context, productID string) (inventory.Record, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return ledger{st: a.s.st}.Get(ctx, productID)
}

func (s *Store) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) FindOrderByIdempotencyKey(_ context.Context, userID, key string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.idem[userID+"|"+key]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return cloneOrder(s.st.orders[id]), nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Order{}
	for _, o := range s.sorted() {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (s *Store) ListOrders(_ context.Context, limit, offset int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted()
	out := []orders.Order{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, *cloneOrder(all[i]))
	}
	return out, nil
}

// sorted returns orders newest first.
func (s *Store) sorted() []*orders.Order {
	all := make([]*orders.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return s.st.seq[all[i].ID] > s.st.seq[all[j].ID]
	})
	return all
}

func (s *Store) OrderStats(_ context.Context) (orders.OrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st orders.OrderStats
	for _, o := range s.st.orders {
		st.Total++
		switch o.Status {
		case orders.StatusPending:
			st.Pending++
		case orders.StatusPaid:
			st.Paid++
		case orders.StatusShipped:
			st.Shipped++
		case orders.StatusDelivered:
			st.Delivered++
		case orders.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (s *Store) GetPaymentByOrder(_ context.Context, orderID string) (*orders.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findPayment(s.st, func(p *orders.Payment) bool { return p.OrderID == orderID })
}

func (s *Store) GetPaymentBySession(_ context.Context, sessionID string) (*orders.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findPayment(s.st, func(p *orders.Payment) bool { return p.ProviderSessionID == sessionID })
}

func (s *Store) PaymentStats(_ context.Context) (orders.PaymentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st orders.PaymentStats
	for _, p := range s.st.payments {
		st.Total++
		switch p.Status {
		case orders.PaymentPending:
			st.Pending++
		case orders.PaymentSuccess:
			st.Success++
		case orders.PaymentFailed:
			st.Failed++
		}
	}
	return st, nil
}

func findPayment(st *state, match func(*orders.Payment) bool) (*orders.Payment, error) {
	for _, p := range st.payments {
		if match(p) {
			c := *p
			return &c, nil
		}
	}
	return nil, orders.ErrPaymentNotFound
}

type tx struct {
	st        *state
	insertErr error
}

func (t *tx) Inventory() inventory.Ledger { return ledger{st: t.st} }

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	if t.insertErr != nil {
		return t.insertErr
	}
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s", orders.ErrDuplicate, o.ID)
	}
	if o.IdempotencyKey != "" {
		k := o.UserID + "|" + o.IdempotencyKey
		if _, ok := t.st.idem[k]; ok {
			return fmt.Errorf("%w: idempotency key", orders.ErrDuplicate)
		}
		t.st.idem[k] = o.ID
	}
	t.st.next++
	t.st.seq[o.ID] = t.st.next
	t.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *tx) LockOrder(_ context.Context, id string) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *tx) SetOrderStatus(_ context.Context, id string, status orders.Status, at time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	return nil
}

func (t *tx) LockPaymentByOrder(_ context.Context, orderID string) (*orders.Payment, error) {
	return findPayment(t.st, func(p *orders.Payment) bool { return p.OrderID == orderID })
}

func (t *tx) LockPaymentBySession(_ context.Context, sessionID string) (*orders.Payment, error) {
	return findPayment(t.st, func(p *orders.Payment) bool { return p.ProviderSessionID == sessionID })
}

func (t *tx) InsertPayment(_ context.Context, p *orders.Payment) error {
	for _, existing := range t.st.payments {
		if existing.OrderID == p.OrderID {
			return fmt.Errorf("%w: payment for order %s", orders.ErrDuplicate, p.OrderID)
		}
	}
	c := *p
	t.st.payments[p.ID] = &c
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *orders.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return orders.ErrPaymentNotFound
	}
	c := *p
	t.st.payments[p.ID] = &c
	return nil
}

type ledger struct{ st *state }

func (l ledger) Get(_ context.Context, productID string) (inventory.Record, error) {
	rec, ok := l.st.stock[productID]
	if !ok {
		return inventory.Record{}, inventory.ErrProductNotFound
	}
	return rec, nil
}

func (l ledger) Reserve(_ context.Context, productID string, qty int) (inventory.Record, error) {
	if err := inventory.CheckQty(qty); err != nil {
		return inventory.Record{}, err
	}
	rec, ok := l.st.stock[productID]
	if !ok {
		return inventory.Record{}, inventory.ErrProductNotFound
	}
	if !rec.TrackingEnabled {
		return rec, nil
	}
	if rec.Quantity < qty {
		return rec, &inventory.StockError{ProductID: productID, Requested: qty, Available: rec.Quantity}
	}
	rec.Quantity -= qty
	rec.UpdatedAt = time.Now().UTC()
	l.st.stock[productID] = rec
	return rec, nil
}

func (l ledger) Release(_ context.Context, productID string, qty int) (inventory.Record, error) {
	if err := inventory.CheckQty(qty); err != nil {
		return inventory.Record{}, err
	}
	rec, ok := l.st.stock[productID]
	if !ok {
		return inventory.Record{}, inventory.ErrProductNotFound
	}
	if !rec.TrackingEnabled {
		return rec, nil
	}
	rec.Quantity += qty
	rec.UpdatedAt = time.Now().UTC()
	l.st.stock[productID] = rec
	return rec, nil
}
