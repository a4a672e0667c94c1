package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Address: "   "})
	require.ErrorContains(t, err, "address is required")
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	store := NewRedisStoreFromClient(nil, "")
	require.Equal(t, "convene:sweep:evt", store.prefixed("sweep:evt"))

	custom := NewRedisStoreFromClient(nil, "test:")
	require.Equal(t, "test:k", custom.prefixed("k"))
}

// Runs against a live server when CONVENE_TEST_REDIS_ADDR is set.
func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("CONVENE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONVENE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, RedisConfig{Address: addr, Prefix: "convene-test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	count, ttl, err := store.IncrementWithTTL(ctx, "window", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.IncrementWithTTL(ctx, "window", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k", "window"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
