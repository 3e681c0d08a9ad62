// Package distlock provides short-lived distributed locks keyed by string.
package distlock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory builds a fresh lock per key. A nil Factory means locking is off.
type Factory func(key string) DistLock

// NewRedisFactory returns a Factory backed by client. Returns nil when client
// is nil so callers can wire it unconditionally.
func NewRedisFactory(client *redis.Client, ttl time.Duration) Factory {
	if client == nil {
		return nil
	}
	return func(key string) DistLock {
		return NewRedisLock(client, key, ttl)
	}
}
