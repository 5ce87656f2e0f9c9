package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/careloop/jobs/internal/core/domain"
)

// BookingRepo implements storage.BookingRepository using PostgreSQL.
//
// All bulk transitions carry their status predicate in the WHERE clause so a
// row that moved on concurrently (disputed, cancelled, already completed) is
// silently skipped instead of being force-transitioned.
type BookingRepo struct {
	db *DB
}

// NewBookingRepo creates a new PostgreSQL booking repository.
func NewBookingRepo(db *DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingRow struct {
	ID                  string          `db:"id"`
	CounselorID         string          `db:"counselor_id"`
	ClientID            string          `db:"client_id"`
	Status              string          `db:"status"`
	RoomID              string          `db:"room_id"`
	Amount              decimal.Decimal `db:"amount"`
	Disputed            bool            `db:"disputed"`
	DisputeWindowOpenAt time.Time       `db:"dispute_window_open_at"`
	AutoCompleteAt      time.Time       `db:"auto_complete_at"`
	CompletedAt         *time.Time      `db:"completed_at"`
	PayoutStatus        string          `db:"payout_status"`
	PayoutAmount        decimal.Decimal `db:"payout_amount"`
	PayoutReleasedAt    *time.Time      `db:"payout_released_at"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func (r bookingRow) toDomain() *domain.Booking {
	return &domain.Booking{
		ID:                  r.ID,
		CounselorID:         r.CounselorID,
		ClientID:            r.ClientID,
		Status:              domain.BookingStatus(r.Status),
		RoomID:              r.RoomID,
		Amount:              r.Amount,
		Disputed:            r.Disputed,
		DisputeWindowOpenAt: r.DisputeWindowOpenAt,
		AutoCompleteAt:      r.AutoCompleteAt,
		CompletedAt:         r.CompletedAt,
		PayoutStatus:        domain.PayoutStatus(r.PayoutStatus),
		PayoutAmount:        r.PayoutAmount,
		PayoutReleasedAt:    r.PayoutReleasedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

const bookingColumns = `
	id, counselor_id, client_id, status, room_id, amount, disputed,
	dispute_window_open_at, auto_complete_at, completed_at,
	payout_status, payout_amount, payout_released_at, created_at, updated_at
`

func (r *BookingRepo) selectBookings(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	var rows []bookingRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	bookings := make([]*domain.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, row.toDomain())
	}
	return bookings, nil
}

// ListTeardownDue returns confirmed bookings whose dispute window has opened.
func (r *BookingRepo) ListTeardownDue(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'confirmed' AND dispute_window_open_at <= $1
		ORDER BY dispute_window_open_at ASC
		LIMIT $2
	`
	bookings, err := r.selectBookings(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list teardown-due bookings: %w", err)
	}
	return bookings, nil
}

// MarkDisputeWindowOpen bulk-transitions confirmed bookings to dispute_window_open.
func (r *BookingRepo) MarkDisputeWindowOpen(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		UPDATE bookings
		SET status = 'dispute_window_open', updated_at = NOW()
		WHERE id IN (?) AND status = 'confirmed'
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build dispute-window update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to open dispute windows: %w", err)
	}
	return res.RowsAffected()
}

// ListAutoCompleteDue returns undisputed bookings past their auto-complete deadline.
func (r *BookingRepo) ListAutoCompleteDue(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'dispute_window_open' AND disputed = FALSE AND auto_complete_at <= $1
		ORDER BY auto_complete_at ASC
		LIMIT $2
	`
	bookings, err := r.selectBookings(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-complete-due bookings: %w", err)
	}
	return bookings, nil
}

// CompleteBookings bulk-transitions bookings to completed with a pending payout.
// Each update re-checks the status and dispute flag so a booking disputed
// between fetch and write is never completed.
func (r *BookingRepo) CompleteBookings(ctx context.Context, completions []domain.BookingCompletion, completedAt time.Time) (int64, error) {
	if len(completions) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin completion tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE bookings
		SET status = 'completed', completed_at = $2,
		    payout_status = 'pending', payout_amount = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'dispute_window_open' AND disputed = FALSE
	`

	var total int64
	for _, c := range completions {
		res, err := tx.ExecContext(ctx, query, c.BookingID, completedAt, c.PayoutAmount)
		if err != nil {
			return 0, fmt.Errorf("failed to complete booking %s: %w", c.BookingID, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit completions: %w", err)
	}
	return total, nil
}

// ListPayoutsDue returns completed bookings with a pending payout past the hold-back cutoff.
func (r *BookingRepo) ListPayoutsDue(ctx context.Context, completedBefore time.Time, limit int) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'completed' AND payout_status = 'pending' AND completed_at <= $1
		ORDER BY completed_at ASC
		LIMIT $2
	`
	bookings, err := r.selectBookings(ctx, query, completedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due payouts: %w", err)
	}
	return bookings, nil
}

// ReleasePayouts bulk-transitions pending payouts to released.
func (r *BookingRepo) ReleasePayouts(ctx context.Context, ids []string, releasedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		UPDATE bookings
		SET payout_status = 'released', payout_released_at = ?, updated_at = NOW()
		WHERE id IN (?) AND status = 'completed' AND payout_status = 'pending'
	`, releasedAt, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build payout update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release payouts: %w", err)
	}
	return res.RowsAffected()
}

// CountTeardownDue returns the pending room-teardown backlog.
func (r *BookingRepo) CountTeardownDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM bookings WHERE status = 'confirmed' AND dispute_window_open_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to count teardown backlog: %w", err)
	}
	return count, nil
}

// CountAutoCompleteDue returns the pending auto-completion backlog.
func (r *BookingRepo) CountAutoCompleteDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM bookings
		 WHERE status = 'dispute_window_open' AND disputed = FALSE AND auto_complete_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to count auto-complete backlog: %w", err)
	}
	return count, nil
}

// CountOrphanedPayouts counts payout rows whose booking never completed.
func (r *BookingRepo) CountOrphanedPayouts(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM bookings
		 WHERE payout_status IN ('pending', 'released') AND status <> 'completed'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count orphaned payouts: %w", err)
	}
	return count, nil
}
