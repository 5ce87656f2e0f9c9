package storage

import (
	"context"
	"time"

	"github.com/careloop/jobs/internal/core/domain"
)

// JobRunRepository handles job execution records
type JobRunRepository interface {
	// Get retrieves the execution record for a job, nil if none exists yet
	Get(ctx context.Context, name domain.JobName) (*domain.JobRun, error)

	// Upsert writes the execution record (one row per job name)
	Upsert(ctx context.Context, run *domain.JobRun) error

	// GetAll retrieves all execution records
	GetAll(ctx context.Context) ([]*domain.JobRun, error)
}

// FailedActionRepository handles the durable record of unit failures
type FailedActionRepository interface {
	// Add appends a failed action
	Add(ctx context.Context, fa *domain.FailedAction) error

	// Resolve marks a failed action as resolved (false -> true only)
	Resolve(ctx context.Context, id, resolvedBy string) error

	// ListUnresolved retrieves unresolved failed actions, oldest first
	ListUnresolved(ctx context.Context, limit int) ([]*domain.FailedAction, error)

	// CountUnresolved returns the unresolved backlog size
	CountUnresolved(ctx context.Context) (int, error)
}

// BookingRepository handles the booking state the sweep and payment jobs mutate
type BookingRepository interface {
	// ListTeardownDue retrieves confirmed bookings whose dispute window has
	// opened, oldest deadline first
	ListTeardownDue(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)

	// MarkDisputeWindowOpen bulk-transitions confirmed bookings to
	// dispute_window_open; rows no longer in confirmed are left untouched
	MarkDisputeWindowOpen(ctx context.Context, ids []string) (int64, error)

	// ListAutoCompleteDue retrieves undisputed bookings past their
	// auto-complete deadline, oldest deadline first
	ListAutoCompleteDue(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)

	// CompleteBookings bulk-transitions bookings to completed with a pending
	// payout; the store guards the transition so disputed or already-completed
	// rows are never touched
	CompleteBookings(ctx context.Context, completions []domain.BookingCompletion, completedAt time.Time) (int64, error)

	// ListPayoutsDue retrieves completed bookings with a pending payout whose
	// completion predates the hold-back cutoff
	ListPayoutsDue(ctx context.Context, completedBefore time.Time, limit int) ([]*domain.Booking, error)

	// ReleasePayouts bulk-transitions pending payouts to released
	ReleasePayouts(ctx context.Context, ids []string, releasedAt time.Time) (int64, error)

	// CountTeardownDue returns the pending room-teardown backlog
	CountTeardownDue(ctx context.Context, now time.Time) (int, error)

	// CountAutoCompleteDue returns the pending auto-completion backlog
	CountAutoCompleteDue(ctx context.Context, now time.Time) (int, error)

	// CountOrphanedPayouts counts payout rows whose booking never completed
	CountOrphanedPayouts(ctx context.Context) (int, error)
}

// SlotRepository handles the slot inventory the lifecycle job maintains
type SlotRepository interface {
	// InsertIfAbsent atomically creates the slot unless one already exists
	// for the same (counselor_id, start_time); reports whether a row was
	// written
	InsertIfAbsent(ctx context.Context, slot *domain.Slot) (bool, error)

	// DeleteExpired removes slots that ended before the cutoff and are not
	// booked; booked slots are retained for audit and payout history
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// ListStartTimes retrieves the start times of existing slots for a
	// counselor within [from, to)
	ListStartTimes(ctx context.Context, counselorID string, from, to time.Time) ([]time.Time, error)

	// CountInRange counts a counselor's slots starting within [from, to)
	CountInRange(ctx context.Context, counselorID string, from, to time.Time) (int, error)

	// CountStaleBooked counts booked slots that ended before the cutoff,
	// used as a freshness signal
	CountStaleBooked(ctx context.Context, endedBefore time.Time) (int, error)
}

// CounselorRepository handles counselor and recurring-availability reads
type CounselorRepository interface {
	// ListActive retrieves all non-blocked counselors
	ListActive(ctx context.Context) ([]*domain.Counselor, error)

	// ListAvailability retrieves a counselor's enabled recurring availability
	// for a weekday
	ListAvailability(ctx context.Context, counselorID string, weekday time.Weekday) ([]*domain.RecurringAvailability, error)

	// ListWithEnabledAvailability retrieves the IDs of counselors with at
	// least one enabled recurring-availability day
	ListWithEnabledAvailability(ctx context.Context) ([]string, error)
}
