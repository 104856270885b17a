package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OrderCache is a read-through cache for orders. Redis failures degrade to a
// miss and are only logged.
type OrderCache struct {
	RDB redis.Cmdable
	TTL time.Duration
	Log *zap.Logger
}

// cachedOrder keeps the fields the public JSON form hides.
type cachedOrder struct {
	Order    orders.Order `json:"order"`
	Reserved []bool       `json:"reserved"`
}

func NewOrderCache(rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	return &OrderCache{RDB: rdb, TTL: ttl, Log: log}
}

func (c *OrderCache) GetOrder(ctx context.Context, id string) (*orders.Order, bool) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(ctx, "order_cache_get_failed", id, err)
		}
		return nil, false
	}
	var co cachedOrder
	if err := json.Unmarshal(b, &co); err != nil {
		c.warn(ctx, "order_cache_decode_failed", id, err)
		return nil, false
	}
	for i := range co.Order.Items {
		if i < len(co.Reserved) {
			co.Order.Items[i].Reserved = co.Reserved[i]
		}
	}
	return &co.Order, true
}

// setIfFresh writes the cached order unless a transition newer than the
// snapshot has already fenced the key.
// KEYS[1] order key, KEYS[2] fence key; ARGV: payload, updated_at (µs), ttl (ms).
var setIfFresh = redis.NewScript(`
local fence = redis.call('GET', KEYS[2])
if fence and tonumber(fence) > tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// fenceAndDelete raises the fence to the transition time and drops the entry.
// KEYS[1] order key, KEYS[2] fence key; ARGV: updated_at (µs), ttl (ms).
var fenceAndDelete = redis.NewScript(`
local fence = redis.call('GET', KEYS[2])
if not fence or tonumber(fence) < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// SetOrder caches o. A snapshot read before a concurrent transition is
// refused once that transition has invalidated the order.
func (c *OrderCache) SetOrder(ctx context.Context, o *orders.Order) {
	co := cachedOrder{Order: *o, Reserved: make([]bool, len(o.Items))}
	for i, l := range o.Items {
		co.Reserved[i] = l.Reserved
	}
	b, err := json.Marshal(co)
	if err == nil {
		keys := []string{fmt.Sprintf(KeyOrder, o.ID), fmt.Sprintf(KeyOrderFence, o.ID)}
		err = setIfFresh.Run(ctx, c.RDB, keys, b, o.UpdatedAt.UnixMicro(), c.TTL.Milliseconds()).Err()
	}
	if err != nil {
		c.warn(ctx, "order_cache_set_failed", o.ID, err)
	}
}

// InvalidateOrder drops the cached order after a transition that committed
// with updatedAt.
func (c *OrderCache) InvalidateOrder(ctx context.Context, id string, updatedAt time.Time) {
	keys := []string{fmt.Sprintf(KeyOrder, id), fmt.Sprintf(KeyOrderFence, id)}
	if err := fenceAndDelete.Run(ctx, c.RDB, keys, updatedAt.UnixMicro(), c.TTL.Milliseconds()).Err(); err != nil {
		c.warn(ctx, "order_cache_invalidate_failed", id, err)
	}
}

func (c *OrderCache) warn(ctx context.Context, msg, id string, err error) {
	logging.FromContext(ctx, logging.OrNop(c.Log)).Warn(msg, zap.String("order_id", id), zap.Error(err))
}
