package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const dedupScope = "notifier"

type Deduper interface {
	Seen(ctx context.Context, scope, id string) (bool, error)
	Mark(ctx context.Context, scope, id string) error
}

// Handler turns lifecycle events into notifications. Each envelope is
// delivered at most once per dedup window.
type Handler struct {
	Notifier Notifier
	Dedup    Deduper // optional
	Log      *zap.Logger
}

// Handle is a kafka.Handler. A nil return commits the offset.
func (h *Handler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message: log and commit so the partition keeps moving
		logging.FromContext(ctx, h.log()).Warn("notify_bad_envelope", zap.Error(err))
		return nil
	}
	log := logging.FromContext(ctx, h.log()).With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
	)

	if h.Dedup != nil {
		if seen, err := h.Dedup.Seen(ctx, dedupScope, env.EventID); err == nil && seen {
			log.Debug("notify_duplicate")
			return nil
		}
	}

	n, ok, err := Build(env)
	if err != nil {
		log.Warn("notify_bad_payload", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	if err := h.Notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("notify %s: %w", env.EventID, err)
	}
	if h.Dedup != nil {
		if err := h.Dedup.Mark(ctx, dedupScope, env.EventID); err != nil {
			log.Warn("notify_dedup_mark_failed", zap.Error(err))
		}
	}
	return nil
}

func (h *Handler) log() *zap.Logger { return logging.OrNop(h.Log) }

// Build maps an envelope to a notification. ok is false for event types that
// notify nobody.
func Build(env orders.Envelope) (n Notification, ok bool, err error) {
	n.EventID = env.EventID
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.Audience, n.UserID, n.OrderID = AudienceCustomer, p.UserID, p.OrderID
		n.Subject = "Order " + p.OrderNumber + " received"
		n.Body = fmt.Sprintf("We reserved %d item(s), total %s.", len(p.Items), p.Total.StringFixed(2))
	case orders.EventOrderPaid:
		p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.Audience, n.UserID, n.OrderID = AudienceCustomer, p.UserID, p.OrderID
		n.Subject = "Payment received"
		n.Body = fmt.Sprintf("Payment of %s confirmed.", p.Amount.StringFixed(2))
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.Audience, n.UserID, n.OrderID = AudienceCustomer, p.UserID, p.OrderID
		n.Subject = "Order cancelled"
		n.Body = "Your order was cancelled and reserved stock released."
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		if p.To != orders.StatusShipped && p.To != orders.StatusDelivered {
			return n, false, nil
		}
		n.Audience, n.UserID, n.OrderID = AudienceCustomer, p.UserID, p.OrderID
		n.Subject = "Order " + string(p.To)
		n.Body = fmt.Sprintf("Your order moved from %s to %s.", p.From, p.To)
	case orders.EventPaymentFailed:
		p, err := kafkax.UnwrapPayload[orders.PaymentFailedPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.Audience, n.OrderID = AudienceOperations, p.OrderID
		n.Subject = "Payment session failed"
		n.Body = fmt.Sprintf("Payment %s for order %s failed: %s.", p.PaymentID, p.OrderID, p.Reason)
	case orders.EventLowStock:
		p, err := kafkax.UnwrapPayload[orders.LowStockPayload](env.Payload)
		if err != nil {
			return n, false, err
		}
		n.Audience = AudienceOperations
		n.Subject = "Low stock: " + p.ProductID
		n.Body = fmt.Sprintf("%d left (threshold %d).", p.Quantity, p.Threshold)
	default:
		return n, false, nil
	}
	return n, true, nil
}
