package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func intPtr(n int) *int { return &n }

func TestRedisSetStock_IgnoresOlderVersions(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "stock:test-item")

	require.NoError(t, adapter.SetStock(ctx, "test-item", intPtr(10), 2))
	require.NoError(t, adapter.SetStock(ctx, "test-item", intPtr(3), 1))

	stock, ok, err := adapter.GetStock(ctx, "test-item")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, *stock)

	require.NoError(t, adapter.SetStock(ctx, "test-item", intPtr(7), 3))
	stock, _, err = adapter.GetStock(ctx, "test-item")
	require.NoError(t, err)
	assert.Equal(t, 7, *stock)
}

func TestRedisSetStock_ConcurrentWritersKeepNewest(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "stock:race-item")

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			assert.NoError(t, adapter.SetStock(ctx, "race-item", intPtr(v), int64(v)))
		}(i)
	}
	wg.Wait()

	stock, ok, err := adapter.GetStock(ctx, "race-item")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50, *stock)
}

func TestRedisGetStock_UntrackedAndMissing(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "stock:untracked-item", "stock:missing-item")

	require.NoError(t, adapter.SetStock(ctx, "untracked-item", nil, 1))
	stock, ok, err := adapter.GetStock(ctx, "untracked-item")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, stock)

	_, ok, err = adapter.GetStock(ctx, "missing-item")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisIdempotency(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, "idempotency:req-1")

	ok, err := adapter.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, adapter.ClearIdempotency(ctx, "req-1"))
	ok, err = adapter.SetIdempotency(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
