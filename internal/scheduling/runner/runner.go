package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/scheduling/ledger"
	"github.com/careloop/jobs/internal/scheduling/lock"
	"github.com/careloop/jobs/internal/scheduling/metrics"
)

// Trigger describes when a job fires: a fixed interval, or a daily
// time-of-day schedule when Interval is zero.
type Trigger struct {
	Interval time.Duration
	Hour     int
	Minute   int
}

// Periodic reports whether the trigger is interval-based.
func (t Trigger) Periodic() bool {
	return t.Interval > 0
}

// Stats summarizes the units a job run touched.
type Stats struct {
	Processed int
	Succeeded int
	Failed    int
}

func (s *Stats) Merge(other Stats) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
}

// Definition is the uniform shape every job shares so the runner, ledger and
// lock-key derivation stay generic over the variant.
type Definition struct {
	Name    domain.JobName
	Trigger Trigger
	Run     func(ctx context.Context) (Stats, error)
}

// Runner drives a single job execution: acquire the mutex, run the body,
// record the ledger, release, evaluate alerts.
type Runner struct {
	mutex   lock.Mutex
	ledger  *ledger.Ledger
	alerts  alert.Sink
	failed  storage.FailedActionRepository
	lockTTL time.Duration

	// backlogThreshold fires a warning once the unresolved failed-action
	// backlog exceeds it. 0 disables.
	backlogThreshold int

	log *slog.Logger
}

// New creates a runner.
func New(
	mutex lock.Mutex,
	led *ledger.Ledger,
	alerts alert.Sink,
	failed storage.FailedActionRepository,
	lockTTL time.Duration,
	backlogThreshold int,
	log *slog.Logger,
) *Runner {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Runner{
		mutex:            mutex,
		ledger:           led,
		alerts:           alerts,
		failed:           failed,
		lockTTL:          lockTTL,
		backlogThreshold: backlogThreshold,
		log:              log,
	}
}

// Execute runs the job once under the distributed mutex. A lock held by
// another node skips the run silently; a lock-store error fails closed and
// skips the run as well.
func (r *Runner) Execute(ctx context.Context, def Definition) error {
	log := r.log.With("job", def.Name)

	skipped, err := lock.WithLock(ctx, r.mutex, def.Name.LockKey(), r.lockTTL, func(ctx context.Context) error {
		return r.runBody(ctx, def, log)
	})
	if skipped {
		metrics.LockSkips.WithLabelValues(string(def.Name)).Inc()
		if err != nil {
			log.Error("Lock acquisition failed, run skipped", "error", err)
			return err
		}
		log.Info("Lock held by another node, run skipped")
		return nil
	}
	return err
}

func (r *Runner) runBody(ctx context.Context, def Definition, log *slog.Logger) error {
	log.Info("Job run starting")
	start := time.Now()

	stats, runErr := runRecovered(ctx, def)
	duration := time.Since(start)

	status := domain.RunStatusSuccess
	if runErr != nil {
		status = domain.RunStatusFailed
	}

	metrics.JobRuns.WithLabelValues(string(def.Name), string(status)).Inc()
	metrics.JobDuration.WithLabelValues(string(def.Name)).Observe(duration.Seconds())
	metrics.JobItems.WithLabelValues(string(def.Name), "succeeded").Add(float64(stats.Succeeded))
	metrics.JobItems.WithLabelValues(string(def.Name), "failed").Add(float64(stats.Failed))

	if err := r.ledger.RecordRun(ctx, def.Name, ledger.RunResult{
		Status:    status,
		Duration:  duration,
		Processed: stats.Processed,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Err:       runErr,
	}); err != nil {
		log.Error("Failed to record job run", "error", err)
	}

	if runErr != nil {
		// Outer-control-flow failure: the job did not complete its intended
		// work, escalate.
		alert.Firef(ctx, r.alerts, alert.SeverityCritical,
			"Job run failed", "%s: %v", def.Name, runErr)
		log.Error("Job run failed", "duration", duration, "error", runErr)
	} else {
		log.Info("Job run finished",
			"duration", duration,
			"processed", stats.Processed,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed)
	}

	r.checkBacklog(ctx)
	return runErr
}

// runRecovered converts a panic inside a job body into a failed run so one
// job's bug cannot take the scheduler down.
func runRecovered(ctx context.Context, def Definition) (stats Stats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return def.Run(ctx)
}

func (r *Runner) checkBacklog(ctx context.Context) {
	if r.backlogThreshold <= 0 {
		return
	}
	count, err := r.failed.CountUnresolved(ctx)
	if err != nil {
		r.log.Warn("Failed to count failed-action backlog", "error", err)
		return
	}
	if count > r.backlogThreshold {
		alert.Firef(ctx, r.alerts, alert.SeverityWarning,
			"Failed-action backlog growing",
			"%d unresolved failed actions (threshold %d)", count, r.backlogThreshold)
	}
}
