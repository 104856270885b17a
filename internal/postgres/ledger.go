package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/jackc/pgx/v5"
)

// ledger locks the inventory row (FOR UPDATE) before checking and changing
// quantity. It must run inside a transaction.
type ledger struct{ q querier }

const recordColumns = `product_id, quantity, low_stock_threshold, tracking_enabled, updated_at`

func scanRecord(row pgx.Row) (inventory.Record, error) {
	var r inventory.Record
	err := row.Scan(&r.ProductID, &r.Quantity, &r.LowStockThreshold, &r.TrackingEnabled, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Record{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Record{}, storageErr("scan inventory", err)
	}
	return r, nil
}

func (l ledger) Get(ctx context.Context, productID string) (inventory.Record, error) {
	return scanRecord(l.q.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1`, productID))
}

func (l ledger) lock(ctx context.Context, productID string) (inventory.Record, error) {
	return scanRecord(l.q.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE product_id=$1 FOR UPDATE`, productID))
}

func (l ledger) Reserve(ctx context.Context, productID string, qty int) (inventory.Record, error) {
	if err := inventory.CheckQty(qty); err != nil {
		return inventory.Record{}, err
	}
	rec, err := l.lock(ctx, productID)
	if err != nil {
		return inventory.Record{}, err
	}
	if !rec.TrackingEnabled {
		return rec, nil
	}
	if rec.Quantity < qty {
		return rec, &inventory.StockError{ProductID: productID, Requested: qty, Available: rec.Quantity}
	}
	return scanRecord(l.q.QueryRow(ctx, `
		UPDATE inventory_records SET quantity = quantity - $2, updated_at = now()
		WHERE product_id=$1 RETURNING `+recordColumns, productID, qty))
}

func (l ledger) Release(ctx context.Context, productID string, qty int) (inventory.Record, error) {
	if err := inventory.CheckQty(qty); err != nil {
		return inventory.Record{}, err
	}
	rec, err := l.lock(ctx, productID)
	if err != nil {
		return inventory.Record{}, err
	}
	if !rec.TrackingEnabled {
		return rec, nil
	}
	return scanRecord(l.q.QueryRow(ctx, `
		UPDATE inventory_records SET quantity = quantity + $2, updated_at = now()
		WHERE product_id=$1 RETURNING `+recordColumns, productID, qty))
}
