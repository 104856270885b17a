package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Catalog reads products and whether their stock is tracked. A product with
// no ledger row counts as tracked, so checkout fails with ProductNotFound
// rather than selling unlimited stock.
type Catalog struct{ DB *pgxpool.Pool }

func NewCatalog(db *pgxpool.Pool) *Catalog { return &Catalog{DB: db} }

func (c *Catalog) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := c.DB.QueryRow(ctx, `
		SELECT p.id, p.name, p.price::text, COALESCE(i.tracking_enabled, TRUE)
		FROM products p LEFT JOIN inventory_records i ON i.product_id = p.id
		WHERE p.id=$1`, id).Scan(&p.ID, &p.Name, &price, &p.TrackingEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.Product{}, storageErr("get product", err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return p, nil
}
