package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/visitscribe/backend/internal/domain/providers"
	redisclient "github.com/visitscribe/backend/internal/infrastructure/clients/redis"
)

// RedisLockAdapter implements the LockProvider interface using Redis SET NX.
// Locks expire on their own after the TTL, so a crashed holder cannot wedge
// the sweeper or orchestrator permanently.
type RedisLockAdapter struct {
	client *redisclient.Client
	prefix string
}

// NewRedisLockAdapter creates a new Redis lock adapter
func NewRedisLockAdapter(client *redisclient.Client) providers.LockProvider {
	return &RedisLockAdapter{
		client: client,
		prefix: "lock:",
	}
}

// Acquire attempts to take the named lock. Returns false without blocking
// when another holder has it.
func (a *RedisLockAdapter) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	acquired, err := a.client.Client().SetNX(ctx, a.prefix+name, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return acquired, nil
}

// Release frees the named lock
func (a *RedisLockAdapter) Release(ctx context.Context, name string) error {
	if err := a.client.Client().Del(ctx, a.prefix+name).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}
