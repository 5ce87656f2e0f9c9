// Package sweep implements the pending-action sweep: closing dispute windows
// after tearing down video rooms, and auto-completing bookings whose window
// elapsed without a dispute.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/scheduling/metrics"
	"github.com/careloop/jobs/internal/scheduling/retry"
	"github.com/careloop/jobs/internal/scheduling/runner"
)

// Config configures the sweep.
type Config struct {
	Interval time.Duration `yaml:"interval"`

	// BatchSize bounds each fetch; MaxPerRun caps the total units one run
	// may touch. The cap is deliberately soft back-pressure: remaining items
	// wait for the next cycle instead of being force-truncated mid-batch.
	BatchSize int `yaml:"batch_size"`
	MaxPerRun int `yaml:"max_per_run"`

	// Concurrency bounds the room-teardown fan-out.
	Concurrency int `yaml:"concurrency"`

	// BatchDelay is the rate-limiting sleep between batches.
	BatchDelay time.Duration `yaml:"batch_delay"`

	// PlatformFeePercent is deducted from the booking amount to produce the
	// counselor payout at completion time.
	PlatformFeePercent float64 `yaml:"platform_fee_percent"`

	Retry retry.Config `yaml:"retry"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Interval:           15 * time.Minute,
		BatchSize:          50,
		MaxPerRun:          500,
		Concurrency:        5,
		BatchDelay:         500 * time.Millisecond,
		PlatformFeePercent: 15,
		Retry:              retry.DefaultConfig,
	}
}

// RoomDeleter tears down a video room.
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, roomID string) error
}

// Sweep is the pending-action job body.
type Sweep struct {
	cfg      Config
	bookings storage.BookingRepository
	failed   storage.FailedActionRepository
	rooms    RoomDeleter
	now      func() time.Time
	log      *slog.Logger
}

// New creates the sweep job.
func New(
	cfg Config,
	bookings storage.BookingRepository,
	failed storage.FailedActionRepository,
	rooms RoomDeleter,
	log *slog.Logger,
) *Sweep {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Sweep{
		cfg:      cfg,
		bookings: bookings,
		failed:   failed,
		rooms:    rooms,
		now:      time.Now,
		log:      log,
	}
}

// SetClock overrides the time source (tests).
func (s *Sweep) SetClock(now func() time.Time) {
	s.now = now
}

// Run executes both passes. An error from a pass's outer control flow
// (fetching or bulk-writing a batch) aborts the run; per-unit failures never
// do.
func (s *Sweep) Run(ctx context.Context) (runner.Stats, error) {
	var stats runner.Stats

	if err := s.teardownPass(ctx, &stats); err != nil {
		return stats, fmt.Errorf("room teardown pass: %w", err)
	}
	if err := s.completionPass(ctx, &stats); err != nil {
		return stats, fmt.Errorf("auto-completion pass: %w", err)
	}
	return stats, nil
}

// teardownPass finds confirmed bookings whose dispute window has opened,
// tears down their rooms with bounded fan-out, then bulk-transitions only the
// subset whose teardown succeeded. Failed bookings stay confirmed and are
// retried next run.
func (s *Sweep) teardownPass(ctx context.Context, stats *runner.Stats) error {
	total := 0
	for {
		batch, err := s.bookings.ListTeardownDue(ctx, s.now(), s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		ok, failures := s.teardownRooms(ctx, batch)

		for _, f := range failures {
			s.recordFailure(ctx, domain.FailedActionRoomDeletion, f.booking.ID, f.err, map[string]string{
				"room_id": f.booking.RoomID,
			})
			stats.Failed++
		}

		if len(ok) > 0 {
			n, err := s.bookings.MarkDisputeWindowOpen(ctx, ok)
			if err != nil {
				return fmt.Errorf("failed to open dispute windows: %w", err)
			}
			stats.Succeeded += int(n)
		}
		stats.Processed += len(batch)
		total += len(batch)

		if total >= s.cfg.MaxPerRun {
			s.log.Warn("Teardown pass hit per-run ceiling, deferring remainder", "ceiling", s.cfg.MaxPerRun)
			return nil
		}
		if len(batch) < s.cfg.BatchSize {
			return nil
		}
		if err := s.sleep(ctx); err != nil {
			return err
		}
	}
}

type teardownFailure struct {
	booking *domain.Booking
	err     error
}

// teardownRooms fans room deletions out over a bounded worker pool. Each
// call runs under the retrier; a "not found" from the provider counts as
// success. One booking's failure never blocks its siblings.
func (s *Sweep) teardownRooms(ctx context.Context, batch []*domain.Booking) ([]string, []teardownFailure) {
	var (
		mu       sync.Mutex
		ok       []string
		failures []teardownFailure
	)

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, b := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(b *domain.Booking) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.teardownOne(ctx, b)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, teardownFailure{booking: b, err: err})
			} else {
				ok = append(ok, b.ID)
			}
		}(b)
	}
	wg.Wait()

	return ok, failures
}

func (s *Sweep) teardownOne(ctx context.Context, b *domain.Booking) error {
	if b.RoomID == "" {
		return nil // Nothing to tear down
	}

	skipped, err := retry.Do(ctx, "delete room", s.cfg.Retry, func(ctx context.Context) error {
		return s.rooms.DeleteRoom(ctx, b.RoomID)
	})
	if err != nil {
		return err
	}
	if !skipped {
		metrics.RoomsDeleted.Inc()
	}
	return nil
}

// completionPass bulk-transitions undisputed bookings past their
// auto-complete deadline to completed, setting a pending payout per booking.
func (s *Sweep) completionPass(ctx context.Context, stats *runner.Stats) error {
	total := 0
	for {
		now := s.now()
		batch, err := s.bookings.ListAutoCompleteDue(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		completions := make([]domain.BookingCompletion, 0, len(batch))
		for _, b := range batch {
			if b.Disputed {
				continue // Query filters these; never complete a disputed booking
			}
			completions = append(completions, domain.BookingCompletion{
				BookingID:    b.ID,
				PayoutAmount: s.payoutAmount(b.Amount),
			})
		}

		n, err := s.bookings.CompleteBookings(ctx, completions, now)
		if err != nil {
			return fmt.Errorf("failed to complete bookings: %w", err)
		}

		metrics.BookingsCompleted.Add(float64(n))
		stats.Processed += len(batch)
		stats.Succeeded += int(n)
		total += len(batch)

		if total >= s.cfg.MaxPerRun {
			s.log.Warn("Completion pass hit per-run ceiling, deferring remainder", "ceiling", s.cfg.MaxPerRun)
			return nil
		}
		if len(batch) < s.cfg.BatchSize {
			return nil
		}
		if err := s.sleep(ctx); err != nil {
			return err
		}
	}
}

// payoutAmount deducts the platform fee from the booking amount.
func (s *Sweep) payoutAmount(amount decimal.Decimal) decimal.Decimal {
	fee := decimal.NewFromFloat(s.cfg.PlatformFeePercent).Div(decimal.NewFromInt(100))
	return amount.Mul(decimal.NewFromInt(1).Sub(fee)).Round(2)
}

func (s *Sweep) recordFailure(
	ctx context.Context,
	typ domain.FailedActionType,
	subjectID string,
	cause error,
	metadata map[string]string,
) {
	metrics.FailedActions.WithLabelValues(string(typ)).Inc()
	s.log.Warn("Unit failure recorded", "type", typ, "subject", subjectID, "error", cause)

	fa := &domain.FailedAction{
		Type:      typ,
		SubjectID: subjectID,
		Error:     cause.Error(),
		Metadata:  metadata,
	}
	if err := s.failed.Add(ctx, fa); err != nil {
		s.log.Error("Failed to record failed action", "type", typ, "subject", subjectID, "error", err)
	}
}

func (s *Sweep) sleep(ctx context.Context) error {
	if s.cfg.BatchDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.BatchDelay):
		return nil
	}
}
