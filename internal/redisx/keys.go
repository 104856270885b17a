package redisx

import "time"

const (
	// Order cache: order:{order_id} -> JSON of the order with its lines
	KeyOrder = "order:%s"
	// Transition time (µs) of the last invalidation; older snapshots are not cached.
	KeyOrderFence = "order:%s:fence"

	// Dedup event processing: dedup:{scope}:{id} (id = provider event id or envelope event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
