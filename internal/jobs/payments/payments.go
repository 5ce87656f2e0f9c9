// Package payments implements payout reconciliation: releasing pending
// payouts once the post-completion hold-back has elapsed, and surfacing
// payout rows whose booking never completed.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/scheduling/metrics"
	"github.com/careloop/jobs/internal/scheduling/runner"
)

// Config configures the reconciler.
type Config struct {
	Interval time.Duration `yaml:"interval"`

	// BatchSize bounds each release batch.
	BatchSize int `yaml:"batch_size"`

	// Holdback is how long after completion a payout stays pending, leaving
	// room for late chargebacks before money moves.
	Holdback time.Duration `yaml:"holdback"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Hour,
		BatchSize: 100,
		Holdback:  24 * time.Hour,
	}
}

// Reconciler is the payment-reconciliation job body.
type Reconciler struct {
	cfg      Config
	bookings storage.BookingRepository
	alerts   alert.Sink
	now      func() time.Time
	log      *slog.Logger
}

// New creates the reconciler.
func New(cfg Config, bookings storage.BookingRepository, alerts alert.Sink, log *slog.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		cfg:      cfg,
		bookings: bookings,
		alerts:   alerts,
		now:      time.Now,
		log:      log,
	}
}

// SetClock overrides the time source (tests).
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Run releases due payouts in batches, then checks for orphaned payout rows.
func (r *Reconciler) Run(ctx context.Context) (runner.Stats, error) {
	var stats runner.Stats

	now := r.now()
	cutoff := now.Add(-r.cfg.Holdback)

	for {
		batch, err := r.bookings.ListPayoutsDue(ctx, cutoff, r.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch due payouts: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]string, 0, len(batch))
		for _, b := range batch {
			ids = append(ids, b.ID)
		}

		n, err := r.bookings.ReleasePayouts(ctx, ids, now)
		if err != nil {
			return stats, fmt.Errorf("failed to release payouts: %w", err)
		}

		metrics.PayoutsReleased.Add(float64(n))
		stats.Processed += len(batch)
		stats.Succeeded += int(n)

		if len(batch) < r.cfg.BatchSize {
			break
		}
	}

	if stats.Succeeded > 0 {
		r.log.Info("Payouts released", "count", stats.Succeeded)
	}

	r.checkOrphans(ctx)
	return stats, nil
}

// checkOrphans surfaces payout rows attached to bookings that never reached
// completed. These indicate a bug or a manual intervention gone wrong and
// need a human, so they alert rather than self-heal.
func (r *Reconciler) checkOrphans(ctx context.Context) {
	count, err := r.bookings.CountOrphanedPayouts(ctx)
	if err != nil {
		r.log.Warn("Orphaned-payout check failed", "error", err)
		return
	}
	if count == 0 {
		return
	}

	r.log.Warn("Orphaned payouts detected", "count", count)
	alert.Firef(ctx, r.alerts, alert.SeverityWarning,
		"Orphaned payouts",
		"%d payout rows reference bookings that never completed", count)
}
