package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires each job definition on its own goroutine. A job's trigger
// cannot re-enter while a previous run is active because each loop runs its
// job serially; across instances the distributed mutex is the only
// serialization guarantee.
type Scheduler struct {
	runner *Runner
	defs   []Definition
	loc    *time.Location
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewScheduler creates a scheduler for a fixed set of job definitions.
func NewScheduler(r *Runner, defs []Definition, loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		runner: r,
		defs:   defs,
		loc:    loc,
		log:    log,
	}
}

// Start launches the trigger loops. It returns immediately; loops stop when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, def := range s.defs {
		s.wg.Add(1)
		go s.loop(ctx, def)
	}
}

// Wait blocks until all in-flight runs finish or the grace period elapses.
// A batch in flight is allowed to complete rather than be interrupted, to
// avoid partial bulk-write states.
func (s *Scheduler) Wait(grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("scheduler shutdown timed out after %s", grace)
	}
}

func (s *Scheduler) loop(ctx context.Context, def Definition) {
	defer s.wg.Done()

	if def.Trigger.Periodic() {
		s.periodicLoop(ctx, def)
		return
	}
	s.dailyLoop(ctx, def)
}

func (s *Scheduler) periodicLoop(ctx context.Context, def Definition) {
	s.log.Info("Scheduling periodic job", "job", def.Name, "interval", def.Trigger.Interval)

	ticker := time.NewTicker(def.Trigger.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.runner.Execute(ctx, def)
		}
	}
}

func (s *Scheduler) dailyLoop(ctx context.Context, def Definition) {
	spec := fmt.Sprintf("%d %d * * *", def.Trigger.Minute, def.Trigger.Hour)
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		// Config validation catches this before startup; a bad spec here
		// means the job would silently never fire, so say so loudly.
		s.log.Error("Invalid daily schedule, job disabled", "job", def.Name, "spec", spec, "error", err)
		return
	}

	s.log.Info("Scheduling daily job", "job", def.Name, "spec", spec, "timezone", s.loc.String())

	for {
		next := schedule.Next(time.Now().In(s.loc))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = s.runner.Execute(ctx, def)
		}
	}
}
