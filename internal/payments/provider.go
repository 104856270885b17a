package payments

import (
	"context"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/shopspring/decimal"
)

// Provider event types the reconciler acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

type LineItem struct {
	Name       string
	UnitAmount int64 // minor units
	Quantity   int64
}

type SessionRequest struct {
	OrderID    string
	Currency   string
	SuccessURL string
	CancelURL  string
	Lines      []LineItem
}

type Session struct {
	ID  string
	URL string
}

// WebhookEvent is the verified, provider-neutral view of a webhook delivery.
// SessionID and OrderID are empty for event types that carry no session.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
	OrderID   string
}

// Provider is the outbound payment provider. CreateSession must not be
// retried by implementations: every call opens a new session.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// VerifyWebhook returns an error wrapping orders.ErrInvalidSignature when
	// the signature does not match.
	VerifyWebhook(payload []byte, signature string) (WebhookEvent, error)
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a price to the provider's integer amount, rounding half
// away from zero.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Mul(hundred).Round(0).IntPart()
}

// LineItemsFor builds provider line items from the prices frozen on the order.
func LineItemsFor(o *orders.Order) []LineItem {
	out := make([]LineItem, 0, len(o.Items))
	for _, l := range o.Items {
		name := l.ProductName
		if name == "" {
			name = l.ProductID
		}
		out = append(out, LineItem{
			Name:       name,
			UnitAmount: MinorUnits(l.PriceAtPurchase),
			Quantity:   int64(l.Quantity),
		})
	}
	return out
}
