package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	untrackedStock       = "untracked"
)

// setStockScript writes the mirrored stock only when the incoming version is
// newer, so post-commit writes that race each other cannot regress the cache.
var setStockScript = redis.NewScript(`
local key = KEYS[1]
local value = ARGV[1]
local version = tonumber(ARGV[2])

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'stock', value, 'version', version)
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetStock(ctx context.Context, productID string, virtualStock *int, version int64) error {
	value := untrackedStock
	if virtualStock != nil {
		value = strconv.Itoa(*virtualStock)
	}
	return setStockScript.Run(ctx, r.client, []string{stockKeyPrefix + productID}, value, version).Err()
}

// GetStock returns the mirrored stock. ok is false when nothing is cached.
func (r *RedisAdapter) GetStock(ctx context.Context, productID string) (stock *int, ok bool, err error) {
	value, err := r.client.HGet(ctx, stockKeyPrefix+productID, "stock").Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if value == untrackedStock {
		return nil, true, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, false, err
	}
	return &n, true, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
