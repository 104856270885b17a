package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrProductNotFound    = errors.New("product not found")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Record is the ledger row for one product.
type Record struct {
	ProductID         string    `json:"productId"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	TrackingEnabled   bool      `json:"trackingEnabled"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// LowStock reports whether the available quantity has fallen to the threshold.
func (r Record) LowStock() bool {
	return r.TrackingEnabled && r.LowStockThreshold > 0 && r.Quantity <= r.LowStockThreshold
}

// StockError carries the line that could not be reserved.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for productId=%s (requested %d, available %d)", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }
