package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for distributed job locks.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client (tests).
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks the Redis connection.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// releaseScript deletes the lock only when the caller still owns it, so a
// release after a steal is a no-op.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock attempts to create the lock key with a TTL. SETNX plus key
// expiry gives a single atomic insert-if-absent-or-expired: an expired lock
// is simply gone, so the next acquirer steals it without a read-then-write
// race.
func (c *Client) AcquireLock(ctx context.Context, key, nodeID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, nodeID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock if nodeID still owns it.
func (c *Client) ReleaseLock(ctx context.Context, key, nodeID string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{key}, nodeID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

// LockHolder returns the node currently holding the lock, "" if unheld.
func (c *Client) LockHolder(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get failed: %w", err)
	}
	return val, nil
}
