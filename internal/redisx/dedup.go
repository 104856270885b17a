package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed message ids for TTL. It is a fast path only;
// handlers must stay idempotent without it.
type Dedup struct {
	RDB redis.Cmdable
	TTL time.Duration
}

func NewDedup(rdb redis.Cmdable, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &Dedup{RDB: rdb, TTL: ttl}
}

func (d *Dedup) Seen(ctx context.Context, scope, id string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, scope, id))
}

func (d *Dedup) Mark(ctx context.Context, scope, id string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, scope, id), "1", d.TTL).Err()
}
