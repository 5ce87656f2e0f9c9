package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/careloop/jobs/internal/infra/redis"
)

func newTestMutex(t *testing.T, nodeID string) (*RedisMutex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisMutex(redisclient.NewClientFromRedis(rdb), nodeID), mr
}

func TestRedisMutex_AcquireAndContend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	nodeA := NewRedisMutex(redisclient.NewClientFromRedis(rdbA), "node-a")
	nodeB := NewRedisMutex(redisclient.NewClientFromRedis(rdbB), "node-b")

	ok, err := nodeA.Acquire(ctx, "jobs:lock:test", time.Minute)
	if err != nil || !ok {
		t.Fatalf("node-a should acquire, got ok=%v err=%v", ok, err)
	}

	ok, err = nodeB.Acquire(ctx, "jobs:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("contended acquire must not error: %v", err)
	}
	if ok {
		t.Fatal("node-b must not acquire a held lock")
	}
}

func TestRedisMutex_StealAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	nodeA := NewRedisMutex(redisclient.NewClientFromRedis(rdbA), "node-a")
	nodeB := NewRedisMutex(redisclient.NewClientFromRedis(rdbB), "node-b")

	if ok, _ := nodeA.Acquire(ctx, "jobs:lock:test", time.Minute); !ok {
		t.Fatal("node-a should acquire")
	}

	// Simulate node-a crashing: the TTL expires without a release.
	mr.FastForward(2 * time.Minute)

	ok, err := nodeB.Acquire(ctx, "jobs:lock:test", time.Minute)
	if err != nil || !ok {
		t.Fatalf("node-b should steal the expired lock, got ok=%v err=%v", ok, err)
	}
}

func TestRedisMutex_ReleaseByNonOwnerIsNoop(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	nodeA := NewRedisMutex(redisclient.NewClientFromRedis(rdbA), "node-a")
	nodeB := NewRedisMutex(redisclient.NewClientFromRedis(rdbB), "node-b")

	if ok, _ := nodeA.Acquire(ctx, "jobs:lock:test", time.Minute); !ok {
		t.Fatal("node-a should acquire")
	}

	// A stale node releasing after losing the lock must not free it.
	if err := nodeB.Release(ctx, "jobs:lock:test"); err != nil {
		t.Fatalf("non-owner release must not error: %v", err)
	}

	if ok, _ := nodeB.Acquire(ctx, "jobs:lock:test", time.Minute); ok {
		t.Fatal("lock must still be held by node-a")
	}
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMutex(t, "node-a")

	ran := false
	skipped, err := WithLock(ctx, m, "jobs:lock:test", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || skipped {
		t.Fatalf("expected run, got skipped=%v err=%v", skipped, err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}

	// Lock must be free again.
	ok, err := m.Acquire(ctx, "jobs:lock:test", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock should be released after WithLock, got ok=%v err=%v", ok, err)
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMutex(t, "node-a")

	boom := errors.New("boom")
	skipped, err := WithLock(ctx, m, "jobs:lock:test", time.Minute, func(ctx context.Context) error {
		return boom
	})
	if skipped {
		t.Fatal("a failed run is not a skip")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}

	if ok, _ := m.Acquire(ctx, "jobs:lock:test", time.Minute); !ok {
		t.Fatal("lock should be released after a failed run")
	}
}

func TestWithLock_SkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	nodeA := NewRedisMutex(redisclient.NewClientFromRedis(rdbA), "node-a")
	nodeB := NewRedisMutex(redisclient.NewClientFromRedis(rdbB), "node-b")

	if ok, _ := nodeA.Acquire(ctx, "jobs:lock:test", time.Minute); !ok {
		t.Fatal("node-a should acquire")
	}

	ran := false
	skipped, err := WithLock(ctx, nodeB, "jobs:lock:test", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("a held lock is not an error: %v", err)
	}
	if !skipped {
		t.Fatal("expected skipped=true")
	}
	if ran {
		t.Fatal("fn must not run when the lock is held elsewhere")
	}
}

func TestWithLock_FailsClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	m := NewRedisMutex(redisclient.NewClientFromRedis(rdb), "node-a")

	mr.Close() // Lock store down

	ran := false
	skipped, err := WithLock(ctx, m, "jobs:lock:test", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !skipped {
		t.Fatal("a store error must fail closed (skip the run)")
	}
	if err == nil {
		t.Fatal("expected the store error to surface")
	}
	if ran {
		t.Fatal("fn must not run when the lock store is unreachable")
	}
}

func TestNoopMutex_AlwaysGrants(t *testing.T) {
	ctx := context.Background()
	m := NoopMutex{}

	for i := 0; i < 3; i++ {
		ok, err := m.Acquire(ctx, "jobs:lock:test", time.Minute)
		if err != nil || !ok {
			t.Fatalf("noop mutex must always grant, got ok=%v err=%v", ok, err)
		}
	}
	if err := m.Release(ctx, "jobs:lock:test"); err != nil {
		t.Fatalf("noop release must not error: %v", err)
	}
}
