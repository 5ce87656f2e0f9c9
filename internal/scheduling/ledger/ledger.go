package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/scheduling/metrics"
)

// PeriodicGrace absorbs normal scheduler jitter so missed-run detection does
// not over-trigger recovery.
const PeriodicGrace = 10 * time.Minute

// RunResult is what a finished job run reports to the ledger.
type RunResult struct {
	Status    domain.RunStatus
	Duration  time.Duration
	Processed int
	Succeeded int
	Failed    int
	Err       error
}

// Ledger is the durable record of each job's last run and the source of
// truth for missed-run detection. Only the runner writes it.
type Ledger struct {
	repo   storage.JobRunRepository
	alerts alert.Sink
	cfg    alert.Config
	nodeID string
	now    func() time.Time
	log    *slog.Logger
}

// New creates a ledger writing run records as nodeID.
func New(repo storage.JobRunRepository, alerts alert.Sink, cfg alert.Config, nodeID string, log *slog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		alerts: alerts,
		cfg:    cfg,
		nodeID: nodeID,
		now:    time.Now,
		log:    log,
	}
}

// SetClock overrides the time source (tests).
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// RecordRun upserts the job's execution record and evaluates the
// consecutive-failure and slow-run thresholds.
func (l *Ledger) RecordRun(ctx context.Context, name domain.JobName, res RunResult) error {
	rec, err := l.repo.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load job run record: %w", err)
	}
	if rec == nil {
		rec = &domain.JobRun{JobName: name}
	}

	rec.LastRun = l.now()
	rec.LastStatus = res.Status
	rec.ExecutionCount++
	rec.LastDuration = res.Duration
	rec.LastProcessed = res.Processed
	rec.LastSucceeded = res.Succeeded
	rec.LastFailed = res.Failed
	rec.NodeID = l.nodeID

	if res.Status == domain.RunStatusSuccess {
		rec.ConsecutiveFailures = 0
		rec.LastError = ""
	} else {
		rec.ConsecutiveFailures++
		if res.Err != nil {
			rec.LastError = res.Err.Error()
		}
	}

	if err := l.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}

	metrics.ConsecutiveFailures.WithLabelValues(string(name)).Set(float64(rec.ConsecutiveFailures))

	l.evaluateThresholds(ctx, rec, res)
	return nil
}

func (l *Ledger) evaluateThresholds(ctx context.Context, rec *domain.JobRun, res RunResult) {
	if l.cfg.ConsecutiveFailures > 0 && rec.ConsecutiveFailures >= l.cfg.ConsecutiveFailures {
		alert.Firef(ctx, l.alerts, alert.SeverityCritical,
			"Job failing repeatedly",
			"%s has failed %d consecutive runs (last error: %s)",
			rec.JobName, rec.ConsecutiveFailures, rec.LastError)
	}

	if l.cfg.SlowRun > 0 && res.Duration > l.cfg.SlowRun {
		alert.Firef(ctx, l.alerts, alert.SeverityWarning,
			"Slow job run",
			"%s took %s (threshold %s)", rec.JobName, res.Duration, l.cfg.SlowRun)
	}
}

// LastRun returns the execution record for a job, nil if it never ran.
func (l *Ledger) LastRun(ctx context.Context, name domain.JobName) (*domain.JobRun, error) {
	return l.repo.Get(ctx, name)
}

// Snapshot returns all execution records for health reporting.
func (l *Ledger) Snapshot(ctx context.Context) ([]*domain.JobRun, error) {
	return l.repo.GetAll(ctx)
}

// WasPeriodicJobMissed reports whether an interval-triggered job is overdue:
// more than interval + grace has elapsed since its last run. A job with no
// record at all is treated as missed so a fresh deployment runs everything
// once.
func (l *Ledger) WasPeriodicJobMissed(ctx context.Context, name domain.JobName, interval time.Duration) (bool, error) {
	rec, err := l.repo.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return l.now().Sub(rec.LastRun) > interval+PeriodicGrace, nil
}

// WasDailyJobMissed reports whether a time-of-day job missed today's
// scheduled instant: the instant has passed and the last run predates it.
// No record at all is treated as missed.
func (l *Ledger) WasDailyJobMissed(
	ctx context.Context,
	name domain.JobName,
	hour, minute int,
	loc *time.Location,
) (bool, error) {
	rec, err := l.repo.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}

	now := l.now().In(loc)
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if now.Before(scheduled) {
		return false, nil
	}
	return rec.LastRun.Before(scheduled), nil
}
