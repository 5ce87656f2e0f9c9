package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns tracks completed job runs per job and status
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_runs_total",
			Help: "Total number of job runs",
		},
		[]string{"job", "status"},
	)

	// JobDuration tracks job run duration
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobs_run_duration_seconds",
			Help:    "Job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// JobItems tracks per-run unit outcomes
	JobItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_items_total",
			Help: "Total number of units processed by job runs",
		},
		[]string{"job", "result"},
	)

	// LockSkips tracks runs skipped because the lock was held elsewhere
	LockSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_lock_skips_total",
			Help: "Total number of runs skipped due to a held lock",
		},
		[]string{"job"},
	)

	// ConsecutiveFailures tracks the consecutive-failure count per job
	ConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_consecutive_failures",
			Help: "Consecutive failures per job",
		},
		[]string{"job"},
	)

	// SlotsGenerated tracks slots created by the lifecycle job
	SlotsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_slots_generated_total",
			Help: "Total number of slots generated",
		},
	)

	// SlotsExpired tracks slots deleted by the expiry step
	SlotsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_slots_expired_total",
			Help: "Total number of expired slots deleted",
		},
	)

	// BookingsCompleted tracks bookings auto-completed by the sweep
	BookingsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_bookings_completed_total",
			Help: "Total number of bookings auto-completed",
		},
	)

	// RoomsDeleted tracks room teardowns
	RoomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_rooms_deleted_total",
			Help: "Total number of video rooms torn down",
		},
	)

	// PayoutsReleased tracks payouts released by reconciliation
	PayoutsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_payouts_released_total",
			Help: "Total number of payouts released",
		},
	)

	// FailedActions tracks unit failures recorded for remediation
	FailedActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_actions_total",
			Help: "Total number of failed actions recorded",
		},
		[]string{"type"},
	)

	// CoverageCheckErrors tracks internal errors swallowed by the coverage check
	CoverageCheckErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_coverage_check_errors_total",
			Help: "Total number of coverage check internal errors",
		},
	)

	// DBConnectionPoolUsage tracks database pool utilization percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
