package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog view the core needs.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	TrackingEnabled bool
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"orderNumber"`
	UserID          string          `json:"userId"`
	Status          Status          `json:"status"`
	Items           []OrderLine     `json:"items"`
	Total           decimal.Decimal `json:"total"`
	ShippingAddress string          `json:"shippingAddress,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	IdempotencyKey  string          `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// OrderLine is immutable once the order is stored. PriceAtPurchase is the
// catalog price captured at checkout.
type OrderLine struct {
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName,omitempty"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"priceAtPurchase"`
	Reserved        bool            `json:"-"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Payment struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"orderId"`
	ProviderSessionID string          `json:"providerSessionId"`
	Amount            decimal.Decimal `json:"amount"`
	Status            PaymentStatus   `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type LineInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	Items           []LineInput `json:"items"`
	ShippingAddress string      `json:"shippingAddress,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	IdempotencyKey  string      `json:"-"`
}

type OrderStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Paid      int `json:"paid"`
	Shipped   int `json:"shipped"`
	Delivered int `json:"delivered"`
	Cancelled int `json:"cancelled"`
}

type PaymentStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

func sumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// NewOrderNumber renders ORD-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
