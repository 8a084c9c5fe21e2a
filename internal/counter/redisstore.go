package counter

import (
	"context"
	"time"

	"account-console/internal/redis"
)

// RedisStore is the shared Store realization. All instances pointed at the
// same Redis see one counter per key, so limits hold across the fleet.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.client.IncrementWithTTL(ctx, key, window)
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	return s.client.GetInt(ctx, key)
}

func (s *RedisStore) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...)
}

func (s *RedisStore) ResetIn(ctx context.Context, key string) (time.Duration, error) {
	return s.client.PTTL(ctx, key)
}
