package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/scheduling/ledger"
	"github.com/careloop/jobs/internal/scheduling/lock"
)

func countingDef(name domain.JobName, trigger Trigger, runs *int, mu *sync.Mutex) Definition {
	return Definition{
		Name:    name,
		Trigger: trigger,
		Run: func(ctx context.Context) (Stats, error) {
			mu.Lock()
			defer mu.Unlock()
			*runs++
			return Stats{}, nil
		},
	}
}

func TestReconciler_RecoversMissedJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 0)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h.ledger.SetClock(func() time.Time { return now })

	var mu sync.Mutex
	var periodicRuns, dailyRuns int

	// The periodic job ran recently; the daily job has no record at all.
	_ = h.ledger.RecordRun(ctx, domain.JobPendingActions, ledger.RunResult{Status: domain.RunStatusSuccess})

	defs := []Definition{
		countingDef(domain.JobPendingActions, Trigger{Interval: 15 * time.Minute}, &periodicRuns, &mu),
		countingDef(domain.JobSlotLifecycle, Trigger{Hour: 2, Minute: 30}, &dailyRuns, &mu),
	}

	rec := NewReconciler(h.runner, h.ledger, time.UTC, testLogger())
	rec.Run(ctx, defs)

	mu.Lock()
	defer mu.Unlock()
	if periodicRuns != 0 {
		t.Errorf("fresh periodic job must not be recovered, ran %d times", periodicRuns)
	}
	if dailyRuns != 1 {
		t.Errorf("unrecorded daily job must be recovered once, ran %d times", dailyRuns)
	}
}

func TestReconciler_RecoversOverduePeriodicJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 0)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h.ledger.SetClock(func() time.Time { return now.Add(-time.Hour) })
	_ = h.ledger.RecordRun(ctx, domain.JobPendingActions, ledger.RunResult{Status: domain.RunStatusSuccess})
	h.ledger.SetClock(func() time.Time { return now })

	var mu sync.Mutex
	var runs int
	defs := []Definition{
		countingDef(domain.JobPendingActions, Trigger{Interval: 15 * time.Minute}, &runs, &mu),
	}

	rec := NewReconciler(h.runner, h.ledger, time.UTC, testLogger())
	rec.Run(ctx, defs)

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("overdue periodic job must be recovered once, ran %d times", runs)
	}
}

func TestReconciler_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(lock.NoopMutex{}, 0)

	var mu sync.Mutex
	var laterRuns int

	defs := []Definition{
		{
			Name:    domain.JobPendingActions,
			Trigger: Trigger{Interval: 15 * time.Minute},
			Run: func(ctx context.Context) (Stats, error) {
				return Stats{}, errors.New("boom")
			},
		},
		countingDef(domain.JobSlotLifecycle, Trigger{Hour: 2, Minute: 30}, &laterRuns, &mu),
	}

	rec := NewReconciler(h.runner, h.ledger, time.UTC, testLogger())
	rec.Run(ctx, defs)

	mu.Lock()
	defer mu.Unlock()
	if laterRuns != 1 {
		t.Errorf("one job's recovery failure must not block the next, ran %d times", laterRuns)
	}
}
