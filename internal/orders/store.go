package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
)

// Store persists orders, order lines, payments and the inventory ledger.
// Reads outside WithTx see committed state only.
type Store interface {
	// WithTx runs fn in one transaction; it commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Inventory() inventory.Ledger

	GetOrder(ctx context.Context, id string) (*Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]Order, error)
	OrderStats(ctx context.Context) (OrderStats, error)

	GetPaymentByOrder(ctx context.Context, orderID string) (*Payment, error)
	GetPaymentBySession(ctx context.Context, sessionID string) (*Payment, error)
	PaymentStats(ctx context.Context) (PaymentStats, error)
}

// Tx is the unit of work handed to WithTx. Lock* methods hold the row until
// the transaction ends.
type Tx interface {
	Inventory() inventory.Ledger

	InsertOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id string) (*Order, error)
	SetOrderStatus(ctx context.Context, id string, status Status, at time.Time) error

	LockPaymentByOrder(ctx context.Context, orderID string) (*Payment, error)
	LockPaymentBySession(ctx context.Context, sessionID string) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
}

// Catalog is the product collaborator.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// OrderCache is an optional read-through cache for GetOrder. SetOrder must
// not store a snapshot older than the updatedAt of a later InvalidateOrder.
type OrderCache interface {
	GetOrder(ctx context.Context, id string) (*Order, bool)
	SetOrder(ctx context.Context, o *Order)
	InvalidateOrder(ctx context.Context, id string, updatedAt time.Time)
}
