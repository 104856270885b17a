package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	MaxLinesPerOrder = 100
	maxTextLen       = 1000
	DefaultPageSize  = 20
	MaxPageSize      = 100
)

// Engine is the only writer of Order.Status. It owns checkout, cancellation
// and administrative status changes.
type Engine struct {
	Store   Store
	Catalog Catalog
	Authz   Authorizer
	Events  Publisher  // optional
	Cache   OrderCache // optional
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Service string
	Now     func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Clock is the engine's current time in UTC.
func (e *Engine) Clock() time.Time { return e.now() }

func (e *Engine) log() *zap.Logger { return logging.OrNop(e.Log) }

// CreateOrder validates the cart, captures prices, reserves stock and stores
// the order in one transaction. replayed is true when IdempotencyKey matched
// an order created earlier by the same user.
func (e *Engine) CreateOrder(ctx context.Context, actor Actor, req CheckoutRequest) (order *Order, replayed bool, err error) {
	ctx, span := Tracer().Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.String("user.id", actor.UserID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer func() {
		e.Metrics.IncCheckout(Outcome(err))
		fields := []zap.Field{zap.String("user_id", actor.UserID), zap.Bool("replayed", replayed)}
		if order != nil {
			fields = append(fields, zap.String("order_id", order.ID), zap.String("total", order.Total.StringFixed(2)))
		}
		Finish(ctx, e.log(), "order.create", span, err, fields...)
	}()

	if actor.UserID == "" {
		return nil, false, fmt.Errorf("%w: anonymous actor", ErrForbidden)
	}
	if err := validateCheckout(req); err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, ferr := e.Store.FindOrderByIdempotencyKey(ctx, actor.UserID, req.IdempotencyKey)
		switch {
		case ferr == nil:
			return existing, true, nil
		case !errors.Is(ferr, ErrOrderNotFound):
			return nil, false, ferr
		}
	}

	lines, err := e.captureLines(ctx, req.Items)
	if err != nil {
		return nil, false, err
	}

	now := e.now()
	o := &Order{
		ID:              uuid.NewString(),
		Number:          NewOrderNumber(now),
		UserID:          actor.UserID,
		Status:          StatusPending,
		Items:           lines,
		Total:           sumLines(lines),
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Notes:           strings.TrimSpace(req.Notes),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var lowStock []inventory.Record
	err = e.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		lowStock = lowStock[:0]
		plan := stockPlan(o.Items)
		granted := make([]stockMove, 0, len(plan))
		for _, mv := range plan {
			rec, rerr := tx.Inventory().Reserve(ctx, mv.ProductID, mv.Quantity)
			if rerr != nil {
				e.releaseGranted(ctx, tx, granted)
				if errors.Is(rerr, inventory.ErrProductNotFound) {
					return fmt.Errorf("%w: no ledger entry for productId=%s", ErrProductNotFound, mv.ProductID)
				}
				return rerr
			}
			granted = append(granted, mv)
			if rec.LowStock() {
				lowStock = append(lowStock, rec)
			}
		}
		return tx.InsertOrder(ctx, o)
	})
	if errors.Is(err, ErrDuplicate) && req.IdempotencyKey != "" {
		// lost the race against a concurrent request with the same key
		existing, ferr := e.Store.FindOrderByIdempotencyKey(ctx, actor.UserID, req.IdempotencyKey)
		if ferr == nil {
			return existing, true, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	e.Emit(ctx, TopicOrderCreated, o.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Items:       toItemPrices(o.Items),
		Total:       o.Total,
	})
	for _, rec := range lowStock {
		e.Metrics.IncLowStock()
		e.Emit(ctx, TopicLowStock, rec.ProductID, EventLowStock, LowStockPayload{
			ProductID: rec.ProductID,
			Quantity:  rec.Quantity,
			Threshold: rec.LowStockThreshold,
		})
	}
	return o, false, nil
}

// captureLines reads the current catalog price of every line. The prices are
// frozen into the order and never re-read.
func (e *Engine) captureLines(ctx context.Context, items []LineInput) ([]OrderLine, error) {
	lines := make([]OrderLine, 0, len(items))
	for _, it := range items {
		p, err := e.Catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return nil, fmt.Errorf("%w: productId=%s", ErrProductNotFound, it.ProductID)
			}
			return nil, err
		}
		lines = append(lines, OrderLine{
			ProductID:       it.ProductID,
			ProductName:     p.Name,
			Quantity:        it.Quantity,
			PriceAtPurchase: p.Price,
			Reserved:        p.TrackingEnabled,
		})
	}
	return lines, nil
}

// stockMove is one ledger call for a product.
type stockMove struct {
	ProductID string
	Quantity  int
}

// stockPlan merges the reserved lines per product and orders them by product
// id. Every transaction touches inventory rows in that order, so two carts
// holding the same products in different order cannot deadlock.
func stockPlan(lines []OrderLine) []stockMove {
	idx := make(map[string]int, len(lines))
	plan := make([]stockMove, 0, len(lines))
	for _, l := range lines {
		if !l.Reserved {
			continue
		}
		if i, ok := idx[l.ProductID]; ok {
			plan[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(plan)
		plan = append(plan, stockMove{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	slices.SortFunc(plan, func(a, b stockMove) int { return strings.Compare(a.ProductID, b.ProductID) })
	return plan
}

// releaseGranted gives back reservations taken earlier in a failed checkout.
func (e *Engine) releaseGranted(ctx context.Context, tx Tx, granted []stockMove) {
	for _, mv := range granted {
		if _, err := tx.Inventory().Release(ctx, mv.ProductID, mv.Quantity); err != nil {
			logging.FromContext(ctx, e.log()).Warn("compensating_release_failed",
				zap.String("product_id", mv.ProductID),
				zap.Int("qty", mv.Quantity),
				zap.Error(err),
			)
		}
	}
}

func validateCheckout(req CheckoutRequest) error {
	if len(req.Items) == 0 {
		return validationf("items must not be empty")
	}
	if len(req.Items) > MaxLinesPerOrder {
		return validationf("at most %d items per order", MaxLinesPerOrder)
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return validationf("items[%d].productId is required", i)
		}
		if it.Quantity < 1 {
			return validationf("items[%d].quantity must be at least 1 for productId=%s", i, it.ProductID)
		}
	}
	if len(req.ShippingAddress) > maxTextLen || len(req.Notes) > maxTextLen {
		return validationf("shippingAddress and notes are limited to %d characters", maxTextLen)
	}
	if len(req.IdempotencyKey) > 255 {
		return validationf("idempotency key too long")
	}
	return nil
}

func toItemPrices(lines []OrderLine) []ItemPrice {
	out := make([]ItemPrice, 0, len(lines))
	for _, l := range lines {
		out = append(out, ItemPrice{ProductID: l.ProductID, Qty: l.Quantity, PriceAtPurchase: l.PriceAtPurchase})
	}
	return out
}

// GetOrder returns the order if actor owns it or is an admin.
func (e *Engine) GetOrder(ctx context.Context, actor Actor, id string) (*Order, error) {
	o, err := e.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.Authz.Authorize(ctx, actor, o.UserID, ActionViewOrder); err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Engine) loadOrder(ctx context.Context, id string) (*Order, error) {
	if e.Cache != nil {
		if o, ok := e.Cache.GetOrder(ctx, id); ok {
			return o, nil
		}
	}
	o, err := e.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Cache != nil {
		e.Cache.SetOrder(ctx, o)
	}
	return o, nil
}

func (e *Engine) ListMyOrders(ctx context.Context, actor Actor) ([]Order, error) {
	if actor.UserID == "" {
		return nil, ErrForbidden
	}
	return e.Store.ListOrdersByUser(ctx, actor.UserID)
}

func (e *Engine) ListOrders(ctx context.Context, actor Actor, limit, offset int) ([]Order, error) {
	if err := e.Authz.Authorize(ctx, actor, "", ActionListOrders); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return e.Store.ListOrders(ctx, limit, offset)
}

func (e *Engine) Stats(ctx context.Context, actor Actor) (OrderStats, error) {
	if err := e.Authz.Authorize(ctx, actor, "", ActionViewStats); err != nil {
		return OrderStats{}, err
	}
	return e.Store.OrderStats(ctx)
}

// CancelOrder restores every reserved line and marks the order CANCELLED in
// one transaction. Only PENDING orders can be cancelled.
func (e *Engine) CancelOrder(ctx context.Context, actor Actor, id string) (order *Order, err error) {
	ctx, span := Tracer().Start(ctx, "orders.CancelOrder", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("user.id", actor.UserID),
	))
	defer func() {
		e.Metrics.IncCancel(Outcome(err))
		Finish(ctx, e.log(), "order.cancel", span, err, zap.String("order_id", id), zap.String("user_id", actor.UserID))
	}()

	err = e.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		o, lerr := tx.LockOrder(ctx, id)
		if lerr != nil {
			return lerr
		}
		if aerr := e.Authz.Authorize(ctx, actor, o.UserID, ActionCancelOrder); aerr != nil {
			return aerr
		}
		if o.Status != StatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled (status %s)", ErrInvalidTransition, o.Status)
		}
		for _, mv := range stockPlan(o.Items) {
			if _, rerr := tx.Inventory().Release(ctx, mv.ProductID, mv.Quantity); rerr != nil {
				return fmt.Errorf("release productId=%s: %w", mv.ProductID, rerr)
			}
		}
		now := e.now()
		if serr := tx.SetOrderStatus(ctx, o.ID, StatusCancelled, now); serr != nil {
			return serr
		}
		o.Status = StatusCancelled
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(ctx, order)
	e.Emit(ctx, TopicOrderCancelled, order.ID, EventOrderCancelled, OrderCancelledPayload{
		OrderID:     order.ID,
		UserID:      order.UserID,
		CancelledBy: actor.UserID,
	})
	return order, nil
}

// UpdateStatus is the administrative status write. It follows the transition
// table; a move to CANCELLED goes through CancelOrder so stock is restored.
func (e *Engine) UpdateStatus(ctx context.Context, actor Actor, id string, to Status) (order *Order, err error) {
	if aerr := e.Authz.Authorize(ctx, actor, "", ActionUpdateStatus); aerr != nil {
		e.Metrics.IncStatusUpdate(Outcome(aerr))
		return nil, aerr
	}
	if !to.Valid() {
		e.Metrics.IncStatusUpdate(Outcome(ErrValidation))
		return nil, validationf("unknown status %q", to)
	}
	if to == StatusCancelled {
		return e.CancelOrder(ctx, actor, id)
	}

	ctx, span := Tracer().Start(ctx, "orders.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status_to", string(to)),
	))
	var from Status
	defer func() {
		e.Metrics.IncStatusUpdate(Outcome(err))
		Finish(ctx, e.log(), "order.update_status", span, err,
			zap.String("order_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}()

	err = e.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		o, prev, terr := e.TransitionTx(ctx, tx, id, to)
		if terr != nil {
			return terr
		}
		order, from = o, prev
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.AfterTransition(ctx, order, from)
	return order, nil
}

// TransitionTx moves the order to status inside the caller's transaction.
// It is used for transitions that carry no inventory side effect.
func (e *Engine) TransitionTx(ctx context.Context, tx Tx, id string, to Status) (*Order, Status, error) {
	if to == StatusCancelled {
		return nil, "", fmt.Errorf("%w: use CancelOrder", ErrInvalidTransition)
	}
	o, err := tx.LockOrder(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := o.Status
	if !CanTransition(from, to) {
		return nil, from, transitionErr(from, to)
	}
	now := e.now()
	if err := tx.SetOrderStatus(ctx, id, to, now); err != nil {
		return nil, from, err
	}
	o.Status = to
	o.UpdatedAt = now
	return o, from, nil
}

// AfterTransition runs the post-commit effects of a status change.
func (e *Engine) AfterTransition(ctx context.Context, o *Order, from Status) {
	e.invalidate(ctx, o)
	e.Emit(ctx, TopicOrderStatusChanged, o.ID, EventOrderStatusChanged, OrderStatusChangedPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		From:    from,
		To:      o.Status,
	})
}

func (e *Engine) invalidate(ctx context.Context, o *Order) {
	if e.Cache != nil {
		e.Cache.InvalidateOrder(ctx, o.ID, o.UpdatedAt)
	}
}

// Emit publishes an event envelope. Failures are logged and never surface to
// the caller: the state change is already committed.
func (e *Engine) Emit(ctx context.Context, topic, key, eventType string, payload any) {
	if e.Events == nil {
		return
	}
	env, err := NewEnvelope(eventType, e.Service, key, traceID(ctx), payload)
	if err == nil {
		var b []byte
		if b, err = json.Marshal(env); err == nil {
			err = e.Events.Publish(ctx, topic, key, eventType, b)
		}
	}
	if err != nil {
		logging.FromContext(ctx, e.log()).Warn("event_publish_failed",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
