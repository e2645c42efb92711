package providers

import (
	"context"
	"time"
)

// LockProvider hands out best-effort distributed locks. The sweeper uses one
// to enforce its system-wide single instance; the post-commit orchestrator
// uses per (visit, operation) locks so the same operation never runs twice
// concurrently for the same visit.
type LockProvider interface {
	// Acquire attempts to take the named lock for the given TTL. It returns
	// false without blocking when the lock is already held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release frees the named lock
	Release(ctx context.Context, name string) error
}
