package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/jobs/internal/core/domain"
)

// SlotRepo implements storage.SlotRepository using PostgreSQL.
type SlotRepo struct {
	db *DB
}

// NewSlotRepo creates a new PostgreSQL slot repository.
func NewSlotRepo(db *DB) *SlotRepo {
	return &SlotRepo{db: db}
}

// InsertIfAbsent writes the slot unless one already exists for the same
// (counselor_id, start_time). ON CONFLICT DO NOTHING rides on the unique
// index, so even two generation runs racing on the same candidate produce a
// single row.
func (r *SlotRepo) InsertIfAbsent(ctx context.Context, slot *domain.Slot) (bool, error) {
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO slots (id, counselor_id, start_time, end_time, status, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (counselor_id, start_time) DO NOTHING
	`
	res, err := r.db.ExecContext(
		ctx,
		query,
		slot.ID,
		slot.CounselorID,
		slot.StartTime,
		slot.EndTime,
		string(slot.Status),
		slot.Price,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert slot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired removes past slots that are not booked.
func (r *SlotRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM slots WHERE end_time < $1 AND status <> 'booked'`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired slots: %w", err)
	}
	return res.RowsAffected()
}

// ListStartTimes returns the start times of a counselor's slots within [from, to).
func (r *SlotRepo) ListStartTimes(ctx context.Context, counselorID string, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT start_time FROM slots
		WHERE counselor_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
	`

	var times []time.Time
	if err := r.db.SelectContext(ctx, &times, query, counselorID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list slot start times: %w", err)
	}
	return times, nil
}

// CountInRange counts a counselor's slots starting within [from, to).
func (r *SlotRepo) CountInRange(ctx context.Context, counselorID string, from, to time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM slots WHERE counselor_id = $1 AND start_time >= $2 AND start_time < $3`,
		counselorID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to count slots: %w", err)
	}
	return count, nil
}

// CountStaleBooked counts booked slots that ended before the cutoff.
func (r *SlotRepo) CountStaleBooked(ctx context.Context, endedBefore time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM slots WHERE status = 'booked' AND end_time < $1`, endedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale booked slots: %w", err)
	}
	return count, nil
}
