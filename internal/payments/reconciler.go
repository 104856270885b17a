package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const dedupScope = "webhook"

// Deduper remembers provider event ids that were already applied.
type Deduper interface {
	Seen(ctx context.Context, scope, id string) (bool, error)
	Mark(ctx context.Context, scope, id string) error
}

// Ack is the body returned to the provider once the signature is verified.
type Ack struct {
	Received bool `json:"received"`
}

// Webhook outcomes, used as the metric label.
const (
	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
)

// Reconciler applies verified provider events to Payment and Order. A payment
// only moves out of PENDING once, which makes redeliveries no-ops.
type Reconciler struct {
	Store    orders.Store
	Engine   *orders.Engine
	Provider Provider
	Dedup    Deduper // optional fast path
	Log      *zap.Logger
	Metrics  *metrics.Metrics
}

type applied struct {
	payment *orders.Payment
	order   *orders.Order
	from    orders.Status
	outcome string
}

// HandleEvent verifies and applies one webhook delivery. Once the signature
// passes, every business outcome (ignored, duplicate, no-op) is acknowledged;
// only storage failures return an error so the provider retries.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) (Ack, error) {
	ev, err := r.Provider.VerifyWebhook(payload, signature)
	if err != nil {
		if !errors.Is(err, orders.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %w", orders.ErrInvalidSignature, err)
		}
		r.Metrics.IncWebhook("unverified", orders.Outcome(err))
		logging.FromContext(ctx, r.log()).Info("webhook_rejected", zap.Error(err))
		return Ack{}, err
	}

	ctx, span := orders.Tracer().Start(ctx, "payments.HandleEvent", trace.WithAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.type", ev.Type),
		attribute.String("webhook.session_id", ev.SessionID),
	))
	var res applied
	defer func() {
		outcome := res.outcome
		if err != nil {
			outcome = orders.Outcome(err)
		}
		r.Metrics.IncWebhook(ev.Type, outcome)
		orders.Finish(ctx, r.log(), "payment.webhook", span, err,
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.String("session_id", ev.SessionID),
			zap.String("webhook_outcome", outcome),
		)
	}()

	if ev.Type != EventCheckoutCompleted && ev.Type != EventCheckoutExpired {
		res.outcome = outcomeIgnored
		return Ack{Received: true}, nil
	}
	if ev.SessionID == "" {
		res.outcome = outcomeIgnored
		return Ack{Received: true}, nil
	}
	if r.seen(ctx, ev.ID) {
		res.outcome = outcomeDuplicate
		return Ack{Received: true}, nil
	}

	err = r.Store.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		var aerr error
		res, aerr = r.apply(ctx, tx, ev)
		return aerr
	})
	if err != nil {
		return Ack{}, err
	}

	r.afterCommit(ctx, ev, res)
	r.mark(ctx, ev.ID)
	return Ack{Received: true}, nil
}

// apply runs inside one transaction: payment row first, then the order.
func (r *Reconciler) apply(ctx context.Context, tx orders.Tx, ev WebhookEvent) (applied, error) {
	p, err := tx.LockPaymentBySession(ctx, ev.SessionID)
	if errors.Is(err, orders.ErrPaymentNotFound) {
		return applied{outcome: outcomeIgnored}, nil
	}
	if err != nil {
		return applied{}, err
	}
	if ev.OrderID != "" && ev.OrderID != p.OrderID {
		logging.FromContext(ctx, r.log()).Warn("webhook_order_mismatch",
			zap.String("session_id", ev.SessionID),
			zap.String("event_order_id", ev.OrderID),
			zap.String("payment_order_id", p.OrderID),
		)
		return applied{outcome: outcomeIgnored}, nil
	}
	if p.Status != orders.PaymentPending {
		return applied{payment: p, outcome: outcomeNoop}, nil
	}

	now := r.Engine.Clock()
	p.UpdatedAt = now
	if ev.Type == EventCheckoutExpired {
		p.Status = orders.PaymentFailed
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return applied{}, err
		}
		return applied{payment: p, outcome: outcomeApplied}, nil
	}

	p.Status = orders.PaymentSuccess
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return applied{}, err
	}
	o, from, err := r.Engine.TransitionTx(ctx, tx, p.OrderID, orders.StatusPaid)
	if errors.Is(err, orders.ErrInvalidTransition) {
		// paid after the order left PENDING (e.g. cancelled meanwhile)
		logging.FromContext(ctx, r.log()).Warn("payment_for_non_pending_order",
			zap.String("order_id", p.OrderID),
			zap.String("status", string(from)),
			zap.String("payment_id", p.ID),
		)
		return applied{payment: p, outcome: outcomeApplied}, nil
	}
	if err != nil {
		return applied{}, err
	}
	return applied{payment: p, order: o, from: from, outcome: outcomeApplied}, nil
}

func (r *Reconciler) afterCommit(ctx context.Context, ev WebhookEvent, res applied) {
	if res.outcome != outcomeApplied || res.payment == nil {
		return
	}
	p := res.payment
	switch p.Status {
	case orders.PaymentFailed:
		r.Engine.Emit(ctx, orders.TopicPaymentFailed, p.OrderID, orders.EventPaymentFailed, orders.PaymentFailedPayload{
			OrderID:           p.OrderID,
			PaymentID:         p.ID,
			ProviderSessionID: p.ProviderSessionID,
			Reason:            "SESSION_EXPIRED",
		})
	case orders.PaymentSuccess:
		if res.order == nil {
			return
		}
		r.Engine.AfterTransition(ctx, res.order, res.from)
		r.Engine.Emit(ctx, orders.TopicOrderPaid, p.OrderID, orders.EventOrderPaid, orders.OrderPaidPayload{
			OrderID:           p.OrderID,
			UserID:            res.order.UserID,
			PaymentID:         p.ID,
			ProviderSessionID: p.ProviderSessionID,
			Amount:            p.Amount,
		})
	}
}

func (r *Reconciler) seen(ctx context.Context, eventID string) bool {
	if r.Dedup == nil || eventID == "" {
		return false
	}
	ok, err := r.Dedup.Seen(ctx, dedupScope, eventID)
	if err != nil {
		logging.FromContext(ctx, r.log()).Warn("webhook_dedup_check_failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return ok
}

func (r *Reconciler) mark(ctx context.Context, eventID string) {
	if r.Dedup == nil || eventID == "" {
		return
	}
	if err := r.Dedup.Mark(ctx, dedupScope, eventID); err != nil {
		logging.FromContext(ctx, r.log()).Warn("webhook_dedup_mark_failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (r *Reconciler) log() *zap.Logger { return logging.OrNop(r.Log) }
