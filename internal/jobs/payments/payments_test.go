package payments

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage/memory"
)

type mockSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *mockSink) Fire(ctx context.Context, a alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *mockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func completedBooking(id string, completedAt time.Time) *domain.Booking {
	return &domain.Booking{
		ID:             id,
		CounselorID:    "c1",
		ClientID:       "u1",
		Status:         domain.BookingCompleted,
		Amount:         decimal.NewFromInt(100),
		CompletedAt:    &completedAt,
		PayoutStatus:   domain.PayoutPending,
		PayoutAmount:   decimal.RequireFromString("85.00"),
		AutoCompleteAt: completedAt,
	}
}

func newTestReconciler(store *memory.MemoryStorage, sink alert.Sink) *Reconciler {
	cfg := Config{Interval: time.Hour, BatchSize: 10, Holdback: 24 * time.Hour}
	r := New(cfg, memory.NewBookingRepo(store), sink, testLogger())
	r.SetClock(func() time.Time { return testNow })
	return r
}

func TestRun_ReleasesPayoutsPastHoldback(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	store.PutBooking(completedBooking("b1", testNow.Add(-48*time.Hour)))
	store.PutBooking(completedBooking("b2", testNow.Add(-time.Hour)))

	r := newTestReconciler(store, &mockSink{})
	stats, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	b1 := store.GetBooking("b1")
	if b1.PayoutStatus != domain.PayoutReleased {
		t.Errorf("b1 payout should be released, got %s", b1.PayoutStatus)
	}
	if b1.PayoutReleasedAt == nil || !b1.PayoutReleasedAt.Equal(testNow) {
		t.Errorf("expected release timestamp %s, got %v", testNow, b1.PayoutReleasedAt)
	}

	// b2 completed an hour ago, still inside the hold-back.
	if got := store.GetBooking("b2").PayoutStatus; got != domain.PayoutPending {
		t.Errorf("b2 payout must stay pending inside the hold-back, got %s", got)
	}

	if stats.Succeeded != 1 {
		t.Errorf("expected 1 released payout, got %d", stats.Succeeded)
	}
}

func TestRun_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	store.PutBooking(completedBooking("b1", testNow.Add(-48*time.Hour)))

	r := newTestReconciler(store, &mockSink{})
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	stats, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if stats.Processed != 0 {
		t.Errorf("a released payout must not be picked up again, processed %d", stats.Processed)
	}
}

func TestRun_OrphanedPayoutAlert(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	// A pending payout on a booking that never completed.
	orphan := completedBooking("b1", testNow.Add(-48*time.Hour))
	orphan.Status = domain.BookingCancelled
	store.PutBooking(orphan)

	sink := &mockSink{}
	r := newTestReconciler(store, sink)
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sink.count() != 1 {
		t.Errorf("expected 1 orphaned-payout alert, got %d", sink.count())
	}

	// The orphan is surfaced, never auto-released.
	if got := store.GetBooking("b1").PayoutStatus; got != domain.PayoutPending {
		t.Errorf("orphaned payout must not be released, got %s", got)
	}
}
