package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage/memory"
	"github.com/careloop/jobs/internal/scheduling/ledger"
	"github.com/careloop/jobs/internal/scheduling/lock"
)

// =============================================================================
// Mocks
// =============================================================================

type mockSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *mockSink) Fire(ctx context.Context, a alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *mockSink) count(sev alert.Severity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.Severity == sev {
			n++
		}
	}
	return n
}

// heldMutex simulates a lock owned by another node, or a broken lock store.
type heldMutex struct {
	err error
}

func (m heldMutex) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, m.err
}

func (m heldMutex) Release(ctx context.Context, key string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	runner *Runner
	ledger *ledger.Ledger
	sink   *mockSink
	store  *memory.MemoryStorage
}

func newHarness(mutex lock.Mutex, backlogThreshold int) *harness {
	store := memory.NewMemoryStorage()
	sink := &mockSink{}
	led := ledger.New(memory.NewJobRunRepo(store), sink, alert.Config{}, "node-1", testLogger())
	failed := memory.NewFailedActionRepo(store)
	return &harness{
		runner: New(mutex, led, sink, failed, time.Minute, backlogThreshold, testLogger()),
		ledger: led,
		sink:   sink,
		store:  store,
	}
}

func def(name domain.JobName, run func(ctx context.Context) (Stats, error)) Definition {
	return Definition{
		Name:    name,
		Trigger: Trigger{Interval: time.Minute},
		Run:     run,
	}
}

// =============================================================================
// Execute
// =============================================================================

func TestExecute_RecordsSuccessfulRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 0)

	err := h.runner.Execute(ctx, def(domain.JobPendingActions, func(ctx context.Context) (Stats, error) {
		return Stats{Processed: 5, Succeeded: 4, Failed: 1}, nil
	}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rec, err := h.ledger.LastRun(ctx, domain.JobPendingActions)
	if err != nil || rec == nil {
		t.Fatalf("expected a run record, got rec=%v err=%v", rec, err)
	}
	if rec.LastStatus != domain.RunStatusSuccess {
		t.Errorf("expected success, got %s", rec.LastStatus)
	}
	if rec.LastProcessed != 5 || rec.LastSucceeded != 4 || rec.LastFailed != 1 {
		t.Errorf("stats not recorded: %+v", rec)
	}
}

func TestExecute_FailureFiresCriticalAlert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 0)

	boom := errors.New("db unreachable")
	err := h.runner.Execute(ctx, def(domain.JobPendingActions, func(ctx context.Context) (Stats, error) {
		return Stats{}, boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected the run error back, got %v", err)
	}

	rec, _ := h.ledger.LastRun(ctx, domain.JobPendingActions)
	if rec.LastStatus != domain.RunStatusFailed {
		t.Errorf("expected failed status, got %s", rec.LastStatus)
	}
	if h.sink.count(alert.SeverityCritical) != 1 {
		t.Errorf("expected 1 critical alert, got %d", h.sink.count(alert.SeverityCritical))
	}
}

func TestExecute_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(heldMutex{}, 0)

	ran := false
	err := h.runner.Execute(ctx, def(domain.JobPendingActions, func(ctx context.Context) (Stats, error) {
		ran = true
		return Stats{}, nil
	}))
	if err != nil {
		t.Fatalf("a held lock is not an error: %v", err)
	}
	if ran {
		t.Fatal("job must not run when the lock is held elsewhere")
	}

	// A skipped run leaves no ledger record.
	rec, _ := h.ledger.LastRun(ctx, domain.JobPendingActions)
	if rec != nil {
		t.Errorf("skipped run must not be recorded, got %+v", rec)
	}
}

func TestExecute_FailsClosedOnLockError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(heldMutex{err: errors.New("redis down")}, 0)

	ran := false
	err := h.runner.Execute(ctx, def(domain.JobPendingActions, func(ctx context.Context) (Stats, error) {
		ran = true
		return Stats{}, nil
	}))
	if err == nil {
		t.Fatal("expected the lock error to surface")
	}
	if ran {
		t.Fatal("job must not run when the lock store errors")
	}
}

func TestExecute_RecoversPanic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 0)

	err := h.runner.Execute(ctx, def(domain.JobSlotLifecycle, func(ctx context.Context) (Stats, error) {
		panic("nil map write")
	}))
	if err == nil {
		t.Fatal("a panic must become a failed run")
	}

	rec, _ := h.ledger.LastRun(ctx, domain.JobSlotLifecycle)
	if rec == nil || rec.LastStatus != domain.RunStatusFailed {
		t.Fatalf("panic must be recorded as a failed run, got %+v", rec)
	}
}

func TestExecute_BacklogAlert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 2)

	failed := memory.NewFailedActionRepo(h.store)
	for i := 0; i < 3; i++ {
		_ = failed.Add(ctx, &domain.FailedAction{
			Type:      domain.FailedActionRoomDeletion,
			SubjectID: "b1",
			Error:     "boom",
		})
	}

	_ = h.runner.Execute(ctx, def(domain.JobPendingActions, func(ctx context.Context) (Stats, error) {
		return Stats{}, nil
	}))

	if h.sink.count(alert.SeverityWarning) != 1 {
		t.Errorf("expected 1 backlog warning, got %d", h.sink.count(alert.SeverityWarning))
	}
}
