package cache

import (
	"context"
	"time"
)

// Store represents a shared cache interface used across the application.
//
// IncrementWithTTL implements a fixed window: the first increment of a key starts the window
// and later increments within it leave the expiry untouched.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Acquire reports whether the caller is the first to claim key within window. It is the
// building block for "at most once per window" throttles.
func Acquire(ctx context.Context, store Store, key string, window time.Duration) (bool, error) {
	if store == nil {
		return true, nil
	}
	count, _, err := store.IncrementWithTTL(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}
