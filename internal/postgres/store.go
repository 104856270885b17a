package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements orders.Store on PostgreSQL. Row locks are taken with
// SELECT ... FOR UPDATE inside WithTx.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Inventory returns a ledger where each call runs in its own transaction.
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
	return ledger{q: a.s.DB}.Get(ctx, productID)
}

// rowID normalizes an id bound against a UUID column. A malformed id cannot
// match any row.
func rowID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

const orderColumns = `id::text, order_number, user_id, status, total::text,
	COALESCE(shipping_address,''), COALESCE(notes,''), COALESCE(idempotency_key,''), created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	uid, ok := rowID(id)
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return getOrder(ctx, s.DB, `SELECT `+orderColumns+` FROM orders WHERE id=$1::uuid`, uid)
}

func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*orders.Order, error) {
	return getOrder(ctx, s.DB, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key)
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	return listOrders(ctx, s.DB, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id`, userID)
}

func (s *Store) ListOrders(ctx context.Context, limit, offset int) ([]orders.Order, error) {
	return listOrders(ctx, s.DB, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
}

func (s *Store) OrderStats(ctx context.Context) (orders.OrderStats, error) {
	var st orders.OrderStats
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status='PENDING'),
		       COUNT(*) FILTER (WHERE status='PAID'),
		       COUNT(*) FILTER (WHERE status='SHIPPED'),
		       COUNT(*) FILTER (WHERE status='DELIVERED'),
		       COUNT(*) FILTER (WHERE status='CANCELLED')
		FROM orders`).Scan(&st.Total, &st.Pending, &st.Paid, &st.Shipped, &st.Delivered, &st.Cancelled)
	if err != nil {
		return orders.OrderStats{}, storageErr("order stats", err)
	}
	return st, nil
}

const paymentColumns = `id::text, order_id::text, provider_session_id, amount::text, status, created_at, updated_at`

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*orders.Payment, error) {
	uid, ok := rowID(orderID)
	if !ok {
		return nil, orders.ErrPaymentNotFound
	}
	return getPayment(ctx, s.DB, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1::uuid`, uid)
}

func (s *Store) GetPaymentBySession(ctx context.Context, sessionID string) (*orders.Payment, error) {
	return getPayment(ctx, s.DB, `SELECT `+paymentColumns+` FROM payments WHERE provider_session_id=$1`, sessionID)
}

func (s *Store) PaymentStats(ctx context.Context) (orders.PaymentStats, error) {
	var st orders.PaymentStats
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status='PENDING'),
		       COUNT(*) FILTER (WHERE status='SUCCESS'),
		       COUNT(*) FILTER (WHERE status='FAILED')
		FROM payments`).Scan(&st.Total, &st.Pending, &st.Success, &st.Failed)
	if err != nil {
		return orders.PaymentStats{}, storageErr("payment stats", err)
	}
	return st, nil
}

// SeedProduct upserts a catalog row and its ledger row.
func (s *Store) SeedProduct(ctx context.Context, p orders.Product, qty, lowStockThreshold int) error {
	return s.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		q := tx.(*txStore).q
		if _, err := q.Exec(ctx, `
			INSERT INTO products(id, name, price) VALUES ($1,$2,$3::numeric)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price, updated_at=now()`,
			p.ID, p.Name, p.Price.String()); err != nil {
			return storageErr("seed product", err)
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO inventory_records(product_id, quantity, low_stock_threshold, tracking_enabled) VALUES ($1,$2,$3,$4)
			ON CONFLICT (product_id) DO UPDATE SET quantity=EXCLUDED.quantity,
				low_stock_threshold=EXCLUDED.low_stock_threshold, tracking_enabled=EXCLUDED.tracking_enabled, updated_at=now()`,
			p.ID, qty, lowStockThreshold, p.TrackingEnabled); err != nil {
			return storageErr("seed inventory", err)
		}
		return nil
	})
}

type txStore struct{ q pgx.Tx }

func (t *txStore) Inventory() inventory.Ledger { return ledger{q: t.q} }

func (t *txStore) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, status, total, shipping_address, notes, idempotency_key, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5::numeric, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, $10)`,
		o.ID, o.Number, o.UserID, string(o.Status), o.Total.String(),
		o.ShippingAddress, o.Notes, o.IdempotencyKey, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", orders.ErrDuplicate, o.ID)
		}
		return storageErr("insert order", err)
	}
	for i, l := range o.Items {
		if _, err := t.q.Exec(ctx, `
			INSERT INTO order_lines(order_id, line_no, product_id, product_name, quantity, price_at_purchase, reserved)
			VALUES ($1::uuid, $2, $3, $4, $5, $6::numeric, $7)`,
			o.ID, i+1, l.ProductID, l.ProductName, l.Quantity, l.PriceAtPurchase.String(), l.Reserved); err != nil {
			return storageErr("insert order item", err)
		}
	}
	return nil
}

func (t *txStore) LockOrder(ctx context.Context, id string) (*orders.Order, error) {
	uid, ok := rowID(id)
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return getOrder(ctx, t.q, `SELECT `+orderColumns+` FROM orders WHERE id=$1::uuid FOR UPDATE`, uid)
}

func (t *txStore) SetOrderStatus(ctx context.Context, id string, status orders.Status, at time.Time) error {
	uid, ok := rowID(id)
	if !ok {
		return orders.ErrOrderNotFound
	}
	ct, err := t.q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1::uuid`, uid, string(status), at)
	if err != nil {
		return storageErr("set order status", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (t *txStore) LockPaymentByOrder(ctx context.Context, orderID string) (*orders.Payment, error) {
	uid, ok := rowID(orderID)
	if !ok {
		return nil, orders.ErrPaymentNotFound
	}
	return getPayment(ctx, t.q, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1::uuid FOR UPDATE`, uid)
}

func (t *txStore) LockPaymentBySession(ctx context.Context, sessionID string) (*orders.Payment, error) {
	return getPayment(ctx, t.q, `SELECT `+paymentColumns+` FROM payments WHERE provider_session_id=$1 FOR UPDATE`, sessionID)
}

func (t *txStore) InsertPayment(ctx context.Context, p *orders.Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments(id, order_id, provider_session_id, amount, status, created_at, updated_at)
		VALUES ($1::uuid, $2::uuid, $3, $4::numeric, $5, $6, $7)`,
		p.ID, p.OrderID, p.ProviderSessionID, p.Amount.String(), string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment for order %s", orders.ErrDuplicate, p.OrderID)
		}
		return storageErr("insert payment", err)
	}
	return nil
}

func (t *txStore) UpdatePayment(ctx context.Context, p *orders.Payment) error {
	uid, ok := rowID(p.ID)
	if !ok {
		return orders.ErrPaymentNotFound
	}
	ct, err := t.q.Exec(ctx, `
		UPDATE payments SET provider_session_id=$2, amount=$3::numeric, status=$4, updated_at=$5
		WHERE id=$1::uuid`,
		uid, p.ProviderSessionID, p.Amount.String(), string(p.Status), p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: provider session %s", orders.ErrDuplicate, p.ProviderSessionID)
		}
		return storageErr("update payment", err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrPaymentNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o     orders.Order
		st    string
		total string
	)
	if err := row.Scan(&o.ID, &o.Number, &o.UserID, &st, &total,
		&o.ShippingAddress, &o.Notes, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = orders.Status(st)
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.Total = d
	return &o, nil
}

func getOrder(ctx context.Context, q querier, sql string, args ...any) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}
		return nil, storageErr("get order", err)
	}
	if err := loadItems(ctx, q, []*orders.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func listOrders(ctx context.Context, q querier, sql string, args ...any) ([]orders.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	var ptrs []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr("scan order", err)
		}
		ptrs = append(ptrs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("list orders", err)
	}
	if err := loadItems(ctx, q, ptrs); err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(ptrs))
	for _, o := range ptrs {
		out = append(out, *o)
	}
	return out, nil
}

func loadItems(ctx context.Context, q querier, list []*orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, 0, len(list))
	byID := make(map[string]*orders.Order, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Items = []orders.OrderLine{}
	}
	rows, err := q.Query(ctx, `
		SELECT order_id::text, product_id, product_name, quantity, price_at_purchase::text, reserved
		FROM order_lines WHERE order_id = ANY($1::text[]::uuid[]) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return storageErr("load items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			price   string
			l       orders.OrderLine
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.ProductName, &l.Quantity, &price, &l.Reserved); err != nil {
			return storageErr("scan item", err)
		}
		if l.PriceAtPurchase, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order %s line price: %w", orderID, err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, l)
		}
	}
	return storageErr("load items", rows.Err())
}

func getPayment(ctx context.Context, q querier, sql string, args ...any) (*orders.Payment, error) {
	var (
		p      orders.Payment
		amount string
		st     string
	)
	err := q.QueryRow(ctx, sql, args...).Scan(&p.ID, &p.OrderID, &p.ProviderSessionID, &amount, &st, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrPaymentNotFound
		}
		return nil, storageErr("get payment", err)
	}
	p.Status = orders.PaymentStatus(st)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
	}
	return &p, nil
}
