package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/careloop/jobs/internal/core/domain"
)

// CounselorRepo implements storage.CounselorRepository using PostgreSQL.
type CounselorRepo struct {
	db *DB
}

// NewCounselorRepo creates a new PostgreSQL counselor repository.
func NewCounselorRepo(db *DB) *CounselorRepo {
	return &CounselorRepo{db: db}
}

// ListActive returns all non-blocked counselors.
func (r *CounselorRepo) ListActive(ctx context.Context) ([]*domain.Counselor, error) {
	query := `
		SELECT id, display_name, blocked FROM counselors
		WHERE blocked = FALSE
		ORDER BY id
	`

	var rows []struct {
		ID          string `db:"id"`
		DisplayName string `db:"display_name"`
		Blocked     bool   `db:"blocked"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list counselors: %w", err)
	}

	counselors := make([]*domain.Counselor, 0, len(rows))
	for _, row := range rows {
		counselors = append(counselors, &domain.Counselor{
			ID:          row.ID,
			DisplayName: row.DisplayName,
			Blocked:     row.Blocked,
		})
	}
	return counselors, nil
}

// ListAvailability returns a counselor's enabled recurring availability for a weekday.
func (r *CounselorRepo) ListAvailability(
	ctx context.Context,
	counselorID string,
	weekday time.Weekday,
) ([]*domain.RecurringAvailability, error) {
	query := `
		SELECT counselor_id, weekday, enabled, start_time, end_time, base_price
		FROM recurring_availability
		WHERE counselor_id = $1 AND weekday = $2 AND enabled = TRUE
		ORDER BY start_time ASC
	`

	var rows []struct {
		CounselorID string          `db:"counselor_id"`
		Weekday     int             `db:"weekday"`
		Enabled     bool            `db:"enabled"`
		StartTime   string          `db:"start_time"`
		EndTime     string          `db:"end_time"`
		BasePrice   decimal.Decimal `db:"base_price"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, counselorID, int(weekday)); err != nil {
		return nil, fmt.Errorf("failed to list availability: %w", err)
	}

	avails := make([]*domain.RecurringAvailability, 0, len(rows))
	for _, row := range rows {
		avails = append(avails, &domain.RecurringAvailability{
			CounselorID: row.CounselorID,
			Weekday:     time.Weekday(row.Weekday),
			Enabled:     row.Enabled,
			StartTime:   row.StartTime,
			EndTime:     row.EndTime,
			BasePrice:   row.BasePrice,
		})
	}
	return avails, nil
}

// ListWithEnabledAvailability returns IDs of non-blocked counselors with at
// least one enabled recurring-availability day.
func (r *CounselorRepo) ListWithEnabledAvailability(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT c.id
		FROM counselors c
		JOIN recurring_availability ra ON ra.counselor_id = c.id
		WHERE c.blocked = FALSE AND ra.enabled = TRUE
		ORDER BY c.id
	`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list covered counselors: %w", err)
	}
	return ids, nil
}
