package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderPaid          = "OrderPaid"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentFailed      = "PaymentFailed"
	EventLowStock           = "InventoryLowStock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id, or product_id for stock events
	Payload       json.RawMessage `json:"payload"`
}

// Publisher ships an encoded envelope to topic. Implementations may buffer.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, value []byte) error
}

type ItemPrice struct {
	ProductID       string          `json:"product_id"`
	Qty             int             `json:"qty"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Items       []ItemPrice     `json:"items"`
	Total       decimal.Decimal `json:"total"`
}

type OrderCancelledPayload struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	CancelledBy string `json:"cancelled_by"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

type OrderPaidPayload struct {
	OrderID           string          `json:"order_id"`
	UserID            string          `json:"user_id"`
	PaymentID         string          `json:"payment_id"`
	ProviderSessionID string          `json:"provider_session_id"`
	Amount            decimal.Decimal `json:"amount"`
}

type PaymentFailedPayload struct {
	OrderID           string `json:"order_id"`
	PaymentID         string `json:"payment_id"`
	ProviderSessionID string `json:"provider_session_id"`
	Reason            string `json:"reason"` // e.g., SESSION_EXPIRED
}

type LowStockPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

func NewEnvelope(eventType, producer, correlationID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}
