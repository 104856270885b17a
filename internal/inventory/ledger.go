package inventory

import "context"

// Ledger mutates per-product available quantity.
//
// Reserve must serialize concurrent callers on the same product: the check
// and the decrement happen under one row lock, so two reservations that
// together exceed stock cannot both succeed. Untracked products are accepted
// without touching the quantity.
//
// Release never deduplicates; callers decide whether a release is due.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) (Record, error)
	Release(ctx context.Context, productID string, qty int) (Record, error)
	Get(ctx context.Context, productID string) (Record, error)
}

// CheckQty validates a quantity passed to Reserve or Release.
func CheckQty(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
