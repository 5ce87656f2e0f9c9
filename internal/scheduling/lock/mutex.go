package lock

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/careloop/jobs/internal/infra/redis"
)

// Config holds distributed-lock configuration.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// Mutex is a cooperative lock keyed by job name. Two implementations exist:
// a redis-backed distributed mutex for multi-instance deployments and a no-op
// mutex for single-instance ones. Call sites never branch on configuration;
// the strategy is chosen once at startup.
type Mutex interface {
	// Acquire attempts to take the lock. It reports false without error when
	// another node holds a non-expired lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release gives the lock back. Releasing a lock this node no longer owns
	// is a no-op.
	Release(ctx context.Context, key string) error
}

// RedisMutex implements Mutex on a redis key with TTL-based expiry.
type RedisMutex struct {
	client *redisclient.Client
	nodeID string
}

// NewRedisMutex creates a distributed mutex identified by nodeID.
func NewRedisMutex(client *redisclient.Client, nodeID string) *RedisMutex {
	return &RedisMutex{client: client, nodeID: nodeID}
}

func (m *RedisMutex) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.AcquireLock(ctx, key, m.nodeID, ttl)
}

func (m *RedisMutex) Release(ctx context.Context, key string) error {
	return m.client.ReleaseLock(ctx, key, m.nodeID)
}

// NoopMutex always grants the lock. Selected when locking is disabled.
type NoopMutex struct{}

func (NoopMutex) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopMutex) Release(ctx context.Context, key string) error {
	return nil
}

// WithLock runs fn under the mutex. When the lock is held elsewhere the call
// is skipped, not an error. Lock-store failures fail closed: duplicate
// execution is the costlier outcome, so fn does not run. The release runs on
// every exit path, including a panic inside fn.
func WithLock(
	ctx context.Context,
	m Mutex,
	key string,
	ttl time.Duration,
	fn func(context.Context) error,
) (skipped bool, err error) {
	acquired, err := m.Acquire(ctx, key, ttl)
	if err != nil {
		return true, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return true, nil
	}

	defer func() {
		// Release even when ctx was cancelled mid-run.
		_ = m.Release(context.WithoutCancel(ctx), key)
	}()

	return false, fn(ctx)
}
