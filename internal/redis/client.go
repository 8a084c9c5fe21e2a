package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb *redis.Client
}

// incrExpireScript increments a key and, when the increment created it, sets
// its lifetime in the same server-side step. Running both inside one script
// closes the gap where a crash between INCR and EXPIRE would leave a counter
// that never goes away.
var incrExpireScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func New(dsn string) (*Client, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 5
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.ConnMaxLifetime = 30 * time.Minute

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRDB wraps an existing go-redis client. Used by tests running against
// miniredis.
func NewFromRDB(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) RDB() *redis.Client {
	return c.rdb
}

// Counter helpers

// IncrementWithTTL atomically increments key and bounds its lifetime to ttl
// when this increment created the key.
func (c *Client) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrExpireScript.Run(ctx, c.rdb, []string{key}, ttl.Milliseconds()).Int64()
}

// GetInt returns the integer value of key, or 0 when the key is absent.
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// PTTL returns the remaining lifetime of key. Keys without an expiry or
// absent keys report zero.
func (c *Client) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
