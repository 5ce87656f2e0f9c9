// Package slots implements the slot lifecycle job: expiring stale unbooked
// slots, generating future slots from recurring availability, and a coverage
// health check.
package slots

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/scheduling/metrics"
	"github.com/careloop/jobs/internal/scheduling/runner"
)

// coverageWindowDays is the look-ahead window of the coverage health check.
const coverageWindowDays = 7

// Config configures the lifecycle job.
type Config struct {
	// Hour/Minute of the daily trigger, in the platform timezone.
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`

	// HorizonDays selects the single target day (today + N) generated per run.
	HorizonDays int `yaml:"horizon_days"`

	// SlotMinutes is the fixed duration of generated slots.
	SlotMinutes int `yaml:"slot_minutes"`

	// Concurrency bounds the per-counselor generation fan-out.
	Concurrency int `yaml:"concurrency"`

	// PlatformFeePercent is added to the counselor's base price at generation
	// time; historical slots keep the pricing in force when generated.
	PlatformFeePercent float64 `yaml:"platform_fee_percent"`

	// ExpiryAlertThreshold flags an anomalous deletion count (generation bug
	// or prolonged downtime). 0 disables.
	ExpiryAlertThreshold int `yaml:"expiry_alert_threshold"`

	// CoverageAlertThreshold fires once more counselors than this have zero
	// upcoming slots. 0 alerts on any gap.
	CoverageAlertThreshold int `yaml:"coverage_alert_threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Hour:                   2,
		Minute:                 30,
		HorizonDays:            30,
		SlotMinutes:            60,
		Concurrency:            4,
		PlatformFeePercent:     15,
		ExpiryAlertThreshold:   500,
		CoverageAlertThreshold: 3,
	}
}

// Manager is the slot lifecycle job body.
type Manager struct {
	cfg        Config
	slots      storage.SlotRepository
	counselors storage.CounselorRepository
	failed     storage.FailedActionRepository
	alerts     alert.Sink
	loc        *time.Location
	now        func() time.Time
	log        *slog.Logger
}

// New creates the lifecycle job.
func New(
	cfg Config,
	slotRepo storage.SlotRepository,
	counselorRepo storage.CounselorRepository,
	failed storage.FailedActionRepository,
	alerts alert.Sink,
	loc *time.Location,
	log *slog.Logger,
) *Manager {
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = DefaultConfig().SlotMinutes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		cfg:        cfg,
		slots:      slotRepo,
		counselors: counselorRepo,
		failed:     failed,
		alerts:     alerts,
		loc:        loc,
		now:        time.Now,
		log:        log,
	}
}

// SetClock overrides the time source (tests).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Run executes expiry, generation and the coverage check in order. Stats
// count counselors: one unit per counselor processed during generation.
func (m *Manager) Run(ctx context.Context) (runner.Stats, error) {
	var stats runner.Stats

	if err := m.expireSlots(ctx); err != nil {
		return stats, fmt.Errorf("expiry step: %w", err)
	}
	if err := m.generate(ctx, &stats); err != nil {
		return stats, fmt.Errorf("generation step: %w", err)
	}

	// Diagnostic only: internal errors degrade to a zero count, never abort.
	m.coverageCheck(ctx)

	return stats, nil
}

// expireSlots deletes past slots that are not booked. Booked slots are
// retained for audit and payout history.
func (m *Manager) expireSlots(ctx context.Context) error {
	deleted, err := m.slots.DeleteExpired(ctx, m.now())
	if err != nil {
		return err
	}

	metrics.SlotsExpired.Add(float64(deleted))
	m.log.Info("Expired slots deleted", "count", deleted)

	if m.cfg.ExpiryAlertThreshold > 0 && deleted > int64(m.cfg.ExpiryAlertThreshold) {
		alert.Firef(ctx, m.alerts, alert.SeverityWarning,
			"Slot expiry anomaly",
			"%d slots expired in one run (threshold %d)", deleted, m.cfg.ExpiryAlertThreshold)
	}
	return nil
}

// generate expands every active counselor's recurring availability for the
// rolling-horizon target day into concrete slots. Counselors are processed
// with bounded fan-out; one counselor's bad data never aborts the others.
func (m *Manager) generate(ctx context.Context, stats *runner.Stats) error {
	now := m.now().In(m.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc).
		AddDate(0, 0, m.cfg.HorizonDays)
	dayEnd := dayStart.AddDate(0, 0, 1)
	weekday := dayStart.Weekday()

	counselors, err := m.counselors.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list counselors: %w", err)
	}

	m.log.Info("Generating slots",
		"target_day", dayStart.Format("2006-01-02"),
		"weekday", weekday.String(),
		"counselors", len(counselors))

	var (
		mu      sync.Mutex
		created int
	)
	sem := make(chan struct{}, m.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, c := range counselors {
		wg.Add(1)
		sem <- struct{}{}
		go func(c *domain.Counselor) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := m.generateFor(ctx, c.ID, dayStart, dayEnd, weekday)

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			if err != nil {
				stats.Failed++
				m.recordFailure(ctx, domain.FailedActionSlotCreation, c.ID, err, map[string]string{
					"target_day": dayStart.Format("2006-01-02"),
				})
				return
			}
			stats.Succeeded++
			created += n
		}(c)
	}
	wg.Wait()

	metrics.SlotsGenerated.Add(float64(created))
	m.log.Info("Slot generation finished", "created", created, "failed_counselors", stats.Failed)
	return nil
}

// generateFor expands one counselor's availability for the target day.
// Duplicate prevention is layered three deep: the pre-queried start-time set,
// the candidate skip, and the store's insert-if-absent on the
// (counselor_id, start_time) uniqueness constraint — the final backstop
// against concurrent generation runs.
func (m *Manager) generateFor(
	ctx context.Context,
	counselorID string,
	dayStart, dayEnd time.Time,
	weekday time.Weekday,
) (int, error) {
	avails, err := m.counselors.ListAvailability(ctx, counselorID, weekday)
	if err != nil {
		return 0, fmt.Errorf("failed to load availability: %w", err)
	}
	if len(avails) == 0 {
		return 0, nil
	}

	startTimes, err := m.slots.ListStartTimes(ctx, counselorID, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing slots: %w", err)
	}
	existing := make(map[int64]struct{}, len(startTimes))
	for _, t := range startTimes {
		existing[t.Unix()] = struct{}{}
	}

	slotDur := time.Duration(m.cfg.SlotMinutes) * time.Minute
	created := 0

	for _, avail := range avails {
		startMin, err := parseClock(avail.StartTime)
		if err != nil {
			return created, fmt.Errorf("malformed time range start %q: %w", avail.StartTime, err)
		}
		endMin, err := parseClock(avail.EndTime)
		if err != nil {
			return created, fmt.Errorf("malformed time range end %q: %w", avail.EndTime, err)
		}
		if endMin <= startMin {
			return created, fmt.Errorf("malformed time range %s-%s", avail.StartTime, avail.EndTime)
		}

		price := m.slotPrice(avail.BasePrice)
		rangeStart := dayStart.Add(time.Duration(startMin) * time.Minute)
		rangeEnd := dayStart.Add(time.Duration(endMin) * time.Minute)

		for t := rangeStart; !t.Add(slotDur).After(rangeEnd); t = t.Add(slotDur) {
			if _, ok := existing[t.Unix()]; ok {
				continue
			}

			inserted, err := m.slots.InsertIfAbsent(ctx, &domain.Slot{
				CounselorID: counselorID,
				StartTime:   t,
				EndTime:     t.Add(slotDur),
				Status:      domain.SlotAvailable,
				Price:       price,
			})
			if err != nil {
				return created, fmt.Errorf("failed to insert slot at %s: %w", t, err)
			}
			if inserted {
				created++
			}
		}
	}

	return created, nil
}

// slotPrice applies the platform fee to the counselor's base price.
func (m *Manager) slotPrice(base decimal.Decimal) decimal.Decimal {
	fee := decimal.NewFromFloat(m.cfg.PlatformFeePercent).Div(decimal.NewFromInt(100))
	return base.Mul(decimal.NewFromInt(1).Add(fee)).Round(2)
}

// coverageCheck flags counselors with enabled availability but zero slots in
// the next 7 days. It never raises: internal errors degrade to skipping the
// counselor with a counted warning.
func (m *Manager) coverageCheck(ctx context.Context) {
	ids, err := m.counselors.ListWithEnabledAvailability(ctx)
	if err != nil {
		metrics.CoverageCheckErrors.Inc()
		m.log.Warn("Coverage check skipped", "error", err)
		return
	}

	now := m.now()
	windowEnd := now.AddDate(0, 0, coverageWindowDays)
	gaps := 0

	for _, id := range ids {
		count, err := m.slots.CountInRange(ctx, id, now, windowEnd)
		if err != nil {
			metrics.CoverageCheckErrors.Inc()
			m.log.Warn("Coverage count failed", "counselor", id, "error", err)
			continue
		}
		if count > 0 {
			continue
		}

		gaps++
		m.recordFailure(ctx, domain.FailedActionCoverageGap, id,
			fmt.Errorf("no slots in the next %d days", coverageWindowDays), nil)
	}

	if gaps > 0 {
		m.log.Warn("Coverage gaps detected", "counselors", gaps)
	}
	if gaps > m.cfg.CoverageAlertThreshold {
		alert.Firef(ctx, m.alerts, alert.SeverityWarning,
			"Counselor coverage gap",
			"%d counselors have zero bookable slots in the next %d days", gaps, coverageWindowDays)
	}
}

func (m *Manager) recordFailure(
	ctx context.Context,
	typ domain.FailedActionType,
	subjectID string,
	cause error,
	metadata map[string]string,
) {
	metrics.FailedActions.WithLabelValues(string(typ)).Inc()
	m.log.Warn("Unit failure recorded", "type", typ, "subject", subjectID, "error", cause)

	fa := &domain.FailedAction{
		Type:      typ,
		SubjectID: subjectID,
		Error:     cause.Error(),
		Metadata:  metadata,
	}
	if err := m.failed.Add(ctx, fa); err != nil {
		m.log.Error("Failed to record failed action", "type", typ, "subject", subjectID, "error", err)
	}
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock format: %s", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute: %w", err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("clock out of range: %s", s)
	}
	return hour*60 + minute, nil
}
