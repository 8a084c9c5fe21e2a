// Package counter provides expiring per-key counters shared by the rate
// limiter and the lockout tracker. Keys follow the "<purpose>:<subject>"
// convention so administrative tooling can compute the same strings.
package counter

import (
	"context"
	"time"
)

// Store is the only mutable state the security layer shares. Implementations
// handle their own atomicity; callers never hold external locks.
type Store interface {
	// Increment adds 1 to key, creating it at 1 with lifetime window.
	// The create-and-expire step is atomic: a key can never exist without
	// an expiry.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Get returns the current count, or 0 when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the given keys. Resetting an absent key is a no-op.
	Reset(ctx context.Context, keys ...string) error

	// ResetIn reports how long until key expires. Absent keys report 0.
	ResetIn(ctx context.Context, key string) (time.Duration, error)
}
