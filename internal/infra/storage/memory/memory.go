package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/jobs/internal/core/domain"
)

// MemoryStorage backs all repositories with in-process maps. Used for db-less
// operation and in tests.
type MemoryStorage struct {
	jobRuns      map[domain.JobName]*domain.JobRun
	failed       map[string]*domain.FailedAction
	bookings     map[string]*domain.Booking
	slots        map[string]*domain.Slot // keyed by counselorID + "|" + unix start
	counselors   map[string]*domain.Counselor
	availability map[string][]*domain.RecurringAvailability
	mu           sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobRuns:      make(map[domain.JobName]*domain.JobRun),
		failed:       make(map[string]*domain.FailedAction),
		bookings:     make(map[string]*domain.Booking),
		slots:        make(map[string]*domain.Slot),
		counselors:   make(map[string]*domain.Counselor),
		availability: make(map[string][]*domain.RecurringAvailability),
	}
}

func slotKey(counselorID string, start time.Time) string {
	return counselorID + "|" + start.UTC().Format(time.RFC3339)
}

// -----------------------------------------------------------------------------
// Seeding helpers (tests and db-less mode)
// -----------------------------------------------------------------------------

func (s *MemoryStorage) PutBooking(b *domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	s.bookings[b.ID] = &c
}

func (s *MemoryStorage) GetBooking(id string) *domain.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil
	}
	c := *b
	return &c
}

func (s *MemoryStorage) PutSlot(slot *domain.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *slot
	s.slots[slotKey(slot.CounselorID, slot.StartTime)] = &c
}

func (s *MemoryStorage) Slots() []*domain.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		c := *sl
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CounselorID != out[j].CounselorID {
			return out[i].CounselorID < out[j].CounselorID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (s *MemoryStorage) PutCounselor(c *domain.Counselor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.counselors[c.ID] = &cp
}

func (s *MemoryStorage) PutAvailability(a *domain.RecurringAvailability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.availability[a.CounselorID] = append(s.availability[a.CounselorID], &cp)
}

func (s *MemoryStorage) FailedActions() []*domain.FailedAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.FailedAction, 0, len(s.failed))
	for _, fa := range s.failed {
		c := *fa
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// -----------------------------------------------------------------------------
// JobRun Repository
// -----------------------------------------------------------------------------

type JobRunRepo struct {
	store *MemoryStorage
}

func NewJobRunRepo(store *MemoryStorage) *JobRunRepo {
	return &JobRunRepo{store: store}
}

func (r *JobRunRepo) Get(ctx context.Context, name domain.JobName) (*domain.JobRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.jobRuns[name]
	if !ok {
		return nil, nil
	}
	c := *run
	return &c, nil
}

func (r *JobRunRepo) Upsert(ctx context.Context, run *domain.JobRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *run
	c.UpdatedAt = time.Now()
	r.store.jobRuns[run.JobName] = &c
	return nil
}

func (r *JobRunRepo) GetAll(ctx context.Context) ([]*domain.JobRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	runs := make([]*domain.JobRun, 0, len(r.store.jobRuns))
	for _, run := range r.store.jobRuns {
		c := *run
		runs = append(runs, &c)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].JobName < runs[j].JobName })
	return runs, nil
}

// -----------------------------------------------------------------------------
// FailedAction Repository
// -----------------------------------------------------------------------------

type FailedActionRepo struct {
	store *MemoryStorage
}

func NewFailedActionRepo(store *MemoryStorage) *FailedActionRepo {
	return &FailedActionRepo{store: store}
}

func (r *FailedActionRepo) Add(ctx context.Context, fa *domain.FailedAction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *fa
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.store.failed[c.ID] = &c
	fa.ID = c.ID
	return nil
}

func (r *FailedActionRepo) Resolve(ctx context.Context, id, resolvedBy string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	fa, ok := r.store.failed[id]
	if !ok || fa.Resolved {
		return nil
	}
	now := time.Now()
	fa.Resolved = true
	fa.ResolvedAt = &now
	fa.ResolvedBy = resolvedBy
	return nil
}

func (r *FailedActionRepo) ListUnresolved(ctx context.Context, limit int) ([]*domain.FailedAction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.FailedAction
	for _, fa := range r.store.failed {
		if !fa.Resolved {
			c := *fa
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FailedActionRepo) CountUnresolved(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, fa := range r.store.failed {
		if !fa.Resolved {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Booking Repository
// -----------------------------------------------------------------------------

type BookingRepo struct {
	store *MemoryStorage
}

func NewBookingRepo(store *MemoryStorage) *BookingRepo {
	return &BookingRepo{store: store}
}

func (r *BookingRepo) ListTeardownDue(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range r.store.bookings {
		if b.Status == domain.BookingConfirmed && !b.DisputeWindowOpenAt.After(now) {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DisputeWindowOpenAt.Before(out[j].DisputeWindowOpenAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepo) MarkDisputeWindowOpen(ctx context.Context, ids []string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, id := range ids {
		b, ok := r.store.bookings[id]
		if ok && b.Status == domain.BookingConfirmed {
			b.Status = domain.BookingDisputeWindowOpen
			b.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *BookingRepo) ListAutoCompleteDue(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range r.store.bookings {
		if b.Status == domain.BookingDisputeWindowOpen && !b.Disputed && !b.AutoCompleteAt.After(now) {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutoCompleteAt.Before(out[j].AutoCompleteAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepo) CompleteBookings(ctx context.Context, completions []domain.BookingCompletion, completedAt time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, c := range completions {
		b, ok := r.store.bookings[c.BookingID]
		if !ok || b.Status != domain.BookingDisputeWindowOpen || b.Disputed {
			continue
		}
		at := completedAt
		b.Status = domain.BookingCompleted
		b.CompletedAt = &at
		b.PayoutStatus = domain.PayoutPending
		b.PayoutAmount = c.PayoutAmount
		b.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

func (r *BookingRepo) ListPayoutsDue(ctx context.Context, completedBefore time.Time, limit int) ([]*domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range r.store.bookings {
		if b.Status == domain.BookingCompleted && b.PayoutStatus == domain.PayoutPending &&
			b.CompletedAt != nil && !b.CompletedAt.After(completedBefore) {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepo) ReleasePayouts(ctx context.Context, ids []string, releasedAt time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, id := range ids {
		b, ok := r.store.bookings[id]
		if ok && b.Status == domain.BookingCompleted && b.PayoutStatus == domain.PayoutPending {
			at := releasedAt
			b.PayoutStatus = domain.PayoutReleased
			b.PayoutReleasedAt = &at
			b.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *BookingRepo) CountTeardownDue(ctx context.Context, now time.Time) (int, error) {
	due, err := r.ListTeardownDue(ctx, now, 0)
	return len(due), err
}

func (r *BookingRepo) CountAutoCompleteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := r.ListAutoCompleteDue(ctx, now, 0)
	return len(due), err
}

func (r *BookingRepo) CountOrphanedPayouts(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, b := range r.store.bookings {
		hasPayout := b.PayoutStatus == domain.PayoutPending || b.PayoutStatus == domain.PayoutReleased
		if hasPayout && b.Status != domain.BookingCompleted {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Slot Repository
// -----------------------------------------------------------------------------

type SlotRepo struct {
	store *MemoryStorage
}

func NewSlotRepo(store *MemoryStorage) *SlotRepo {
	return &SlotRepo{store: store}
}

func (r *SlotRepo) InsertIfAbsent(ctx context.Context, slot *domain.Slot) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := slotKey(slot.CounselorID, slot.StartTime)
	if _, exists := r.store.slots[key]; exists {
		return false, nil
	}
	c := *slot
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.store.slots[key] = &c
	return true, nil
}

func (r *SlotRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, s := range r.store.slots {
		if s.EndTime.Before(before) && s.Status != domain.SlotBooked {
			delete(r.store.slots, key)
			n++
		}
	}
	return n, nil
}

func (r *SlotRepo) ListStartTimes(ctx context.Context, counselorID string, from, to time.Time) ([]time.Time, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var times []time.Time
	for _, s := range r.store.slots {
		if s.CounselorID == counselorID && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			times = append(times, s.StartTime)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

func (r *SlotRepo) CountInRange(ctx context.Context, counselorID string, from, to time.Time) (int, error) {
	times, err := r.ListStartTimes(ctx, counselorID, from, to)
	return len(times), err
}

func (r *SlotRepo) CountStaleBooked(ctx context.Context, endedBefore time.Time) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, s := range r.store.slots {
		if s.Status == domain.SlotBooked && s.EndTime.Before(endedBefore) {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Counselor Repository
// -----------------------------------------------------------------------------

type CounselorRepo struct {
	store *MemoryStorage
}

func NewCounselorRepo(store *MemoryStorage) *CounselorRepo {
	return &CounselorRepo{store: store}
}

func (r *CounselorRepo) ListActive(ctx context.Context) ([]*domain.Counselor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Counselor
	for _, c := range r.store.counselors {
		if !c.Blocked {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CounselorRepo) ListAvailability(
	ctx context.Context,
	counselorID string,
	weekday time.Weekday,
) ([]*domain.RecurringAvailability, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RecurringAvailability
	for _, a := range r.store.availability[counselorID] {
		if a.Weekday == weekday && a.Enabled {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (r *CounselorRepo) ListWithEnabledAvailability(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var ids []string
	for id, avails := range r.store.availability {
		c, ok := r.store.counselors[id]
		if !ok || c.Blocked {
			continue
		}
		for _, a := range avails {
			if a.Enabled {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
