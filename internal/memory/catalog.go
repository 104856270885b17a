package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/shopspring/decimal"
)

// Catalog is an in-process product catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]orders.Product
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]orders.Product)}
}

func (c *Catalog) Put(p orders.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// SetPrice changes the catalog price. Existing orders are unaffected.
func (c *Catalog) SetPrice(id string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[id]; ok {
		p.Price = price
		c.products[id] = p
	}
}

func (c *Catalog) GetProduct(_ context.Context, id string) (orders.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}
