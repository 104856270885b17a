package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultProviderTimeout = 10 * time.Second

type CheckoutSession struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
	PaymentID   string `json:"paymentId"`
}

// Gateway opens provider checkout sessions for pending orders and keeps the
// order's Payment row in step with the newest session.
type Gateway struct {
	Store       orders.Store
	Provider    Provider
	Authz       orders.Authorizer
	Currency    string
	FrontendURL string
	Timeout     time.Duration
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Gateway) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return DefaultProviderTimeout
}

// CreateCheckoutSession requests a hosted session priced from the order's
// frozen lines and records it as the order's PENDING payment. The provider
// call runs outside the transaction; if it fails or times out nothing is
// written.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, actor orders.Actor, orderID string) (cs CheckoutSession, err error) {
	ctx, span := orders.Tracer().Start(ctx, "payments.CreateCheckoutSession", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("user.id", actor.UserID),
	))
	defer func() {
		g.Metrics.IncPaymentSession(orders.Outcome(err))
		orders.Finish(ctx, logging.OrNop(g.Log), "payment.checkout", span, err,
			zap.String("order_id", orderID),
			zap.String("session_id", cs.SessionID),
		)
	}()

	o, err := g.Store.GetOrder(ctx, orderID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if err := g.Authz.Authorize(ctx, actor, o.UserID, orders.ActionPayOrder); err != nil {
		return CheckoutSession{}, err
	}
	if o.Status != orders.StatusPending {
		return CheckoutSession{}, fmt.Errorf("%w: status %s", orders.ErrOrderNotPending, o.Status)
	}
	existing, err := g.Store.GetPaymentByOrder(ctx, o.ID)
	switch {
	case err == nil && existing.Status == orders.PaymentSuccess:
		return CheckoutSession{}, orders.ErrAlreadyPaid
	case err != nil && !errors.Is(err, orders.ErrPaymentNotFound):
		return CheckoutSession{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, g.timeout())
	sess, err := g.Provider.CreateSession(pctx, SessionRequest{
		OrderID:    o.ID,
		Currency:   g.Currency,
		SuccessURL: fmt.Sprintf("%s/orders/%s/success", g.FrontendURL, o.ID),
		CancelURL:  fmt.Sprintf("%s/orders/%s/cancel", g.FrontendURL, o.ID),
		Lines:      LineItemsFor(o),
	})
	cancel()
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: %w", orders.ErrProviderFailure, err)
	}

	var paymentID string
	err = g.Store.WithTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		id, ferr := g.findOrCreate(ctx, tx, o, sess.ID)
		paymentID = id
		return ferr
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{SessionID: sess.ID, RedirectURL: sess.URL, PaymentID: paymentID}, nil
}

// findOrCreate inserts the order's payment if none exists, or points an open
// (PENDING or FAILED) payment at the new session. The payment row is locked
// before the order row.
func (g *Gateway) findOrCreate(ctx context.Context, tx orders.Tx, o *orders.Order, sessionID string) (string, error) {
	p, err := tx.LockPaymentByOrder(ctx, o.ID)
	if err != nil && !errors.Is(err, orders.ErrPaymentNotFound) {
		return "", err
	}
	cur, err := tx.LockOrder(ctx, o.ID)
	if err != nil {
		return "", err
	}
	if cur.Status != orders.StatusPending {
		return "", fmt.Errorf("%w: status %s", orders.ErrOrderNotPending, cur.Status)
	}

	now := g.now()
	if p == nil {
		p = &orders.Payment{
			ID:                uuid.NewString(),
			OrderID:           o.ID,
			ProviderSessionID: sessionID,
			Amount:            cur.Total,
			Status:            orders.PaymentPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return p.ID, tx.InsertPayment(ctx, p)
	}
	if p.Status == orders.PaymentSuccess {
		return "", orders.ErrAlreadyPaid
	}
	p.ProviderSessionID = sessionID
	p.Amount = cur.Total
	p.Status = orders.PaymentPending
	p.UpdatedAt = now
	return p.ID, tx.UpdatePayment(ctx, p)
}

// Stats returns payment counts by status. Admin only.
func (g *Gateway) Stats(ctx context.Context, actor orders.Actor) (orders.PaymentStats, error) {
	if err := g.Authz.Authorize(ctx, actor, "", orders.ActionViewStats); err != nil {
		return orders.PaymentStats{}, err
	}
	return g.Store.PaymentStats(ctx)
}
