package slots

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

// =============================================================================
// Mocks
// =============================================================================

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

// A Monday; with HorizonDays=7 the target day is Monday 2026-03-09.
var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Hour:                   2,
		Minute:                 30,
		HorizonDays:            7,
		SlotMinutes:            60,
		Concurrency:            2,
		PlatformFeePercent:     15,
		ExpiryAlertThreshold:   0,
		CoverageAlertThreshold: 0,
	}
}

func newTestManager(cfg Config, store *memory.MemoryStorage, sink alert.Sink) *Manager {
	m := New(
		cfg,
		memory.NewSlotRepo(store),
		memory.NewCounselorRepo(store),
		memory.NewFailedActionRepo(store),
		sink,
		time.UTC,
		testLogger(),
	)
	m.SetClock(func() time.Time { return testNow })
	return m
}

func seedCounselor(store *memory.MemoryStorage, id string, weekday time.Weekday, start, end string) {
	store.PutCounselor(&domain.Counselor{ID: id, DisplayName: id})
	store.PutAvailability(&domain.RecurringAvailability{
		CounselorID: id,
		Weekday:     weekday,
		Enabled:     true,
		StartTime:   start,
		EndTime:     end,
		BasePrice:   decimal.NewFromInt(100),
	})
}

// =============================================================================
// Generation
// =============================================================================

func TestRun_GeneratesSlotsForTargetDay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	seedCounselor(store, "c1", time.Monday, "09:00", "11:00")

	m := newTestManager(testConfig(), store, &mockSink{})
	stats, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 1 || stats.Succeeded != 1 {
		t.Errorf("expected 1 counselor processed, got %+v", stats)
	}

	slots := store.Slots()
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}

	want := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	for i, s := range slots {
		if !s.StartTime.Equal(want.Add(time.Duration(i) * time.Hour)) {
			t.Errorf("slot %d start = %s, want %s", i, s.StartTime, want.Add(time.Duration(i)*time.Hour))
		}
		if !s.EndTime.Equal(s.StartTime.Add(time.Hour)) {
			t.Errorf("slot %d has wrong duration", i)
		}
		if s.Status != domain.SlotAvailable {
			t.Errorf("slot %d status = %s, want available", i, s.Status)
		}
		// 100 plus the 15% platform fee.
		if !s.Price.Equal(decimal.RequireFromString("115.00")) {
			t.Errorf("slot %d price = %s, want 115.00", i, s.Price)
		}
	}
}

func TestRun_GenerationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	seedCounselor(store, "c1", time.Monday, "09:00", "11:00")

	m := newTestManager(testConfig(), store, &mockSink{})
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if got := len(store.Slots()); got != 2 {
		t.Errorf("double generation must not duplicate slots, got %d", got)
	}
}

func TestRun_BookedSlotBlocksRegeneration(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	seedCounselor(store, "c1", time.Monday, "09:00", "10:00")

	// The 09:00 candidate already exists and is booked.
	store.PutSlot(&domain.Slot{
		ID:          "s1",
		CounselorID: "c1",
		StartTime:   time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		Status:      domain.SlotBooked,
		Price:       decimal.NewFromInt(100),
	})

	m := newTestManager(testConfig(), store, &mockSink{})
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	slots := store.Slots()
	if len(slots) != 1 {
		t.Fatalf("expected the booked slot only, got %d", len(slots))
	}
	if slots[0].ID != "s1" || slots[0].Status != domain.SlotBooked {
		t.Errorf("booked slot must survive regeneration untouched, got %+v", slots[0])
	}
}

func TestRun_MalformedRangeIsolatedPerCounselor(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	seedCounselor(store, "c1", time.Monday, "9am", "11:00")
	seedCounselor(store, "c2", time.Monday, "09:00", "10:00")

	m := newTestManager(testConfig(), store, &mockSink{})
	stats, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("bad availability data must not abort the run: %v", err)
	}
	if stats.Failed != 1 || stats.Succeeded != 1 {
		t.Errorf("expected 1 failed and 1 succeeded counselor, got %+v", stats)
	}

	slots := store.Slots()
	if len(slots) != 1 || slots[0].CounselorID != "c2" {
		t.Fatalf("c2's generation must proceed, got %+v", slots)
	}

	var found bool
	for _, fa := range store.FailedActions() {
		if fa.Type == domain.FailedActionSlotCreation && fa.SubjectID == "c1" {
			found = true
		}
	}
	if !found {
		t.Error("expected a slot_creation failed action for c1")
	}
}

// =============================================================================
// Expiry
// =============================================================================

func TestRun_ExpiresUnbookedPastSlots(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	past := testNow.Add(-24 * time.Hour)
	store.PutSlot(&domain.Slot{
		ID: "expired", CounselorID: "c1",
		StartTime: past, EndTime: past.Add(time.Hour),
		Status: domain.SlotAvailable,
	})
	store.PutSlot(&domain.Slot{
		ID: "kept", CounselorID: "c1",
		StartTime: past.Add(time.Hour), EndTime: past.Add(2 * time.Hour),
		Status: domain.SlotBooked,
	})

	m := newTestManager(testConfig(), store, &mockSink{})
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	slots := store.Slots()
	if len(slots) != 1 {
		t.Fatalf("expected 1 surviving slot, got %d", len(slots))
	}
	if slots[0].ID != "kept" {
		t.Errorf("the booked slot must be retained, got %+v", slots[0])
	}
}

// =============================================================================
// Coverage check
// =============================================================================

func TestRun_CoverageGapFlaggedAndAlerted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	seedCounselor(store, "c1", time.Monday, "09:00", "11:00")
	// c2 is only available Tuesdays, so the Monday target day generates
	// nothing and the next 7 days stay empty.
	seedCounselor(store, "c2", time.Tuesday, "09:00", "11:00")

	sink := &mockSink{}
	m := newTestManager(testConfig(), store, sink)
	if _, err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var gaps []string
	for _, fa := range store.FailedActions() {
		if fa.Type == domain.FailedActionCoverageGap {
			gaps = append(gaps, fa.SubjectID)
		}
	}
	if len(gaps) != 1 || gaps[0] != "c2" {
		t.Errorf("expected a coverage gap for c2 only, got %v", gaps)
	}

	if sink.count() != 1 {
		t.Errorf("expected 1 coverage alert, got %d", sink.count())
	}
}

// =============================================================================
// Clock parsing
// =============================================================================

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"9am", 0, true},
		{"", 0, true},
		{"12", 0, true},
	}

	for _, tc := range cases {
		got, err := parseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseClock(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseClock(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
