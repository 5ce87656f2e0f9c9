package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/careloop/jobs/internal/scheduling/ledger"
)

// Reconciler detects jobs whose scheduled run was missed while the process
// was down and runs them once through the normal mutex/metrics path before
// scheduled triggers begin.
type Reconciler struct {
	runner *Runner
	ledger *ledger.Ledger
	loc    *time.Location
	log    *slog.Logger
}

// NewReconciler creates a startup reconciler.
func NewReconciler(r *Runner, led *ledger.Ledger, loc *time.Location, log *slog.Logger) *Reconciler {
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{
		runner: r,
		ledger: led,
		loc:    loc,
		log:    log,
	}
}

// Run checks every job definition and recovers the missed ones. A failure
// in one job's check or recovery never prevents checking the others.
func (r *Reconciler) Run(ctx context.Context, defs []Definition) {
	for _, def := range defs {
		if ctx.Err() != nil {
			return
		}

		missed, err := r.wasMissed(ctx, def)
		if err != nil {
			r.log.Error("Missed-run check failed", "job", def.Name, "error", err)
			continue
		}
		if !missed {
			continue
		}

		r.log.Info("Missed scheduled run detected, recovering", "job", def.Name)
		if err := r.runner.Execute(ctx, def); err != nil {
			r.log.Error("Recovery run failed", "job", def.Name, "error", err)
		}
	}
}

func (r *Reconciler) wasMissed(ctx context.Context, def Definition) (bool, error) {
	if def.Trigger.Periodic() {
		return r.ledger.WasPeriodicJobMissed(ctx, def.Name, def.Trigger.Interval)
	}
	return r.ledger.WasDailyJobMissed(ctx, def.Name, def.Trigger.Hour, def.Trigger.Minute, r.loc)
}
