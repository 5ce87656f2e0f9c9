// Package health aggregates job execution records and store backlogs into an
// operator-facing health report served over HTTP.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/scheduling/ledger"
)

// Status of the service as a whole.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// criticalFailures is the consecutive-failure count at which a job drags the
// whole report to critical.
const criticalFailures = 3

// JobHealth is one job's slice of the report.
type JobHealth struct {
	Job                 domain.JobName   `json:"job"`
	LastRun             time.Time        `json:"last_run"`
	LastStatus          domain.RunStatus `json:"last_status"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastDuration        string           `json:"last_duration"`
	LastProcessed       int              `json:"last_processed"`
	LastError           string           `json:"last_error,omitempty"`
	Node                string           `json:"node"`
}

// Backlogs are the store-side queue depths an operator watches.
type Backlogs struct {
	TeardownDue     int `json:"teardown_due"`
	AutoCompleteDue int `json:"auto_complete_due"`
	FailedActions   int `json:"failed_actions"`
	StaleBooked     int `json:"stale_booked_slots"`
	OrphanedPayouts int `json:"orphaned_payouts"`
}

// Report is the full detailed health payload.
type Report struct {
	Status    Status      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Database  string      `json:"database"`
	Jobs      []JobHealth `json:"jobs"`
	Backlogs  Backlogs    `json:"backlogs"`
	Errors    []string    `json:"errors,omitempty"`
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Monitor builds health reports. Reports are cached briefly so a scraping
// load balancer cannot turn health checks into store load.
type Monitor struct {
	led      *ledger.Ledger
	bookings storage.BookingRepository
	failed   storage.FailedActionRepository
	slots    storage.SlotRepository
	db       Pinger
	log      *slog.Logger

	mu          sync.Mutex
	cached      *Report
	cachedAt    time.Time
	cacheWindow time.Duration
	now         func() time.Time
}

// NewMonitor creates a health monitor. db may be nil when running on the
// in-memory store.
func NewMonitor(
	led *ledger.Ledger,
	bookings storage.BookingRepository,
	failed storage.FailedActionRepository,
	slots storage.SlotRepository,
	db Pinger,
	log *slog.Logger,
) *Monitor {
	return &Monitor{
		led:         led,
		bookings:    bookings,
		failed:      failed,
		slots:       slots,
		db:          db,
		log:         log,
		cacheWindow: 10 * time.Second,
		now:         time.Now,
	}
}

// SetClock overrides the time source (tests).
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Report returns the current health report, refreshing at most once per cache
// window.
func (m *Monitor) Report(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cached != nil && now.Sub(m.cachedAt) < m.cacheWindow {
		return m.cached
	}

	m.cached = m.build(ctx, now)
	m.cachedAt = now
	return m.cached
}

func (m *Monitor) build(ctx context.Context, now time.Time) *Report {
	rep := &Report{
		Status:    StatusOK,
		Timestamp: now,
		Database:  "ok",
	}

	if m.db != nil {
		if err := m.db.Health(ctx); err != nil {
			rep.Database = "unreachable"
			rep.Status = StatusCritical
			rep.Errors = append(rep.Errors, "database: "+err.Error())
		}
	} else {
		rep.Database = "memory"
	}

	runs, err := m.led.Snapshot(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, "job runs: "+err.Error())
		m.degrade(rep, StatusDegraded)
	}
	for _, run := range runs {
		rep.Jobs = append(rep.Jobs, JobHealth{
			Job:                 run.JobName,
			LastRun:             run.LastRun,
			LastStatus:          run.LastStatus,
			ConsecutiveFailures: run.ConsecutiveFailures,
			LastDuration:        run.LastDuration.String(),
			LastProcessed:       run.LastProcessed,
			LastError:           run.LastError,
			Node:                run.NodeID,
		})
		if run.ConsecutiveFailures >= criticalFailures {
			m.degrade(rep, StatusCritical)
		} else if run.ConsecutiveFailures > 0 {
			m.degrade(rep, StatusDegraded)
		}
	}

	m.collectBacklogs(ctx, now, rep)
	return rep
}

func (m *Monitor) collectBacklogs(ctx context.Context, now time.Time, rep *Report) {
	count := func(name string, fn func() (int, error)) int {
		n, err := fn()
		if err != nil {
			rep.Errors = append(rep.Errors, name+": "+err.Error())
			m.degrade(rep, StatusDegraded)
			return 0
		}
		return n
	}

	rep.Backlogs = Backlogs{
		TeardownDue: count("teardown backlog", func() (int, error) {
			return m.bookings.CountTeardownDue(ctx, now)
		}),
		AutoCompleteDue: count("auto-complete backlog", func() (int, error) {
			return m.bookings.CountAutoCompleteDue(ctx, now)
		}),
		FailedActions: count("failed-action backlog", func() (int, error) {
			return m.failed.CountUnresolved(ctx)
		}),
		StaleBooked: count("stale booked slots", func() (int, error) {
			return m.slots.CountStaleBooked(ctx, now.AddDate(0, 0, -1))
		}),
		OrphanedPayouts: count("orphaned payouts", func() (int, error) {
			return m.bookings.CountOrphanedPayouts(ctx)
		}),
	}

	if rep.Backlogs.OrphanedPayouts > 0 {
		m.degrade(rep, StatusDegraded)
	}
}

// degrade raises the report status, never lowers it.
func (m *Monitor) degrade(rep *Report, to Status) {
	if rep.Status == StatusCritical {
		return
	}
	if to == StatusCritical || rep.Status == StatusOK {
		rep.Status = to
	}
}
