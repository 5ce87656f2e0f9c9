// Package control wires the application together and manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/careloop/jobs/internal/alert"
	"github.com/careloop/jobs/internal/core/config"
	"github.com/careloop/jobs/internal/core/domain"
	"github.com/careloop/jobs/internal/health"
	redisclient "github.com/careloop/jobs/internal/infra/redis"
	"github.com/careloop/jobs/internal/infra/rooms"
	"github.com/careloop/jobs/internal/infra/storage"
	"github.com/careloop/jobs/internal/infra/storage/memory"
	"github.com/careloop/jobs/internal/infra/storage/postgres"
	"github.com/careloop/jobs/internal/jobs/payments"
	"github.com/careloop/jobs/internal/jobs/slots"
	"github.com/careloop/jobs/internal/jobs/sweep"
	"github.com/careloop/jobs/internal/scheduling/ledger"
	"github.com/careloop/jobs/internal/scheduling/lock"
	"github.com/careloop/jobs/internal/scheduling/runner"
)

// App is the assembled job service.
type App struct {
	cfg          *config.AppConfig
	db           *postgres.DB
	redisClient  *redisclient.Client
	scheduler    *runner.Scheduler
	reconciler   *runner.Reconciler
	defs         []runner.Definition
	healthServer *health.Server
	cancel       context.CancelFunc
	log          *slog.Logger
}

// New builds the application from configuration.
func New(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve timezone: %w", err)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = defaultNodeID()
	}

	// 1. Storage
	var (
		db           *postgres.DB
		jobRunRepo   storage.JobRunRepository
		failedRepo   storage.FailedActionRepository
		bookingRepo  storage.BookingRepository
		slotRepo     storage.SlotRepository
		counselorRep storage.CounselorRepository
	)
	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(cfg.Database.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, err
		}
		jobRunRepo = postgres.NewJobRunRepo(db)
		failedRepo = postgres.NewFailedActionRepo(db)
		bookingRepo = postgres.NewBookingRepo(db)
		slotRepo = postgres.NewSlotRepo(db)
		counselorRep = postgres.NewCounselorRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		jobRunRepo = memory.NewJobRunRepo(store)
		failedRepo = memory.NewFailedActionRepo(store)
		bookingRepo = memory.NewBookingRepo(store)
		slotRepo = memory.NewSlotRepo(store)
		counselorRep = memory.NewCounselorRepo(store)
		log.Info("Using Memory storage")
	}

	// 2. Mutex strategy: chosen once here, never branched on again.
	var (
		mutex       lock.Mutex = lock.NoopMutex{}
		redisClient *redisclient.Client
	)
	if cfg.Locks.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		mutex = lock.NewRedisMutex(redisClient, nodeID)
		log.Info("Using distributed locking", "node", nodeID)
	} else {
		log.Info("Distributed locking disabled")
	}

	// 3. Alerting, ledger, runner
	alerts := alert.NewSink(cfg.Alerts, log)
	led := ledger.New(jobRunRepo, alerts, cfg.Alerts, nodeID, log)
	run := runner.New(mutex, led, alerts, failedRepo, cfg.Locks.TTL, cfg.Alerts.FailedActionBacklog, log)

	// 4. Job bodies
	roomClient := rooms.NewClient(cfg.Rooms)
	sweepJob := sweep.New(cfg.Jobs.PendingActions, bookingRepo, failedRepo, roomClient, log)
	slotJob := slots.New(cfg.Jobs.SlotLifecycle, slotRepo, counselorRep, failedRepo, alerts, loc, log)
	paymentJob := payments.New(cfg.Jobs.PaymentReconcile, bookingRepo, alerts, log)

	defs := []runner.Definition{
		{
			Name:    domain.JobPendingActions,
			Trigger: runner.Trigger{Interval: cfg.Jobs.PendingActions.Interval},
			Run:     sweepJob.Run,
		},
		{
			Name: domain.JobSlotLifecycle,
			Trigger: runner.Trigger{
				Hour:   cfg.Jobs.SlotLifecycle.Hour,
				Minute: cfg.Jobs.SlotLifecycle.Minute,
			},
			Run: slotJob.Run,
		},
		{
			Name:    domain.JobPaymentReconcile,
			Trigger: runner.Trigger{Interval: cfg.Jobs.PaymentReconcile.Interval},
			Run:     paymentJob.Run,
		},
	}

	scheduler := runner.NewScheduler(run, defs, loc, log)
	reconciler := runner.NewReconciler(run, led, loc, log)

	// 5. Health
	var pinger health.Pinger
	if db != nil {
		pinger = db
	}
	monitor := health.NewMonitor(led, bookingRepo, failedRepo, slotRepo, pinger, log)
	healthServer := health.NewServer(cfg.Server.Port, monitor, log)

	return &App{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		scheduler:    scheduler,
		reconciler:   reconciler,
		defs:         defs,
		healthServer: healthServer,
		log:          log,
	}, nil
}

// Start launches the health server, the startup reconciliation pass, and the
// trigger loops. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go func() {
		// Recover missed runs before the normal schedule takes over so a
		// long outage is repaired promptly rather than at the next trigger.
		a.reconciler.Run(ctx, a.defs)
		a.scheduler.Start(ctx)
	}()

	return nil
}

// Stop cancels the trigger loops, waits for in-flight runs up to the grace
// period, and releases external connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping job service...")

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.scheduler.Wait(a.cfg.ShutdownGrace); err != nil {
		a.log.Warn("In-flight runs did not finish in time", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	return a.healthServer.Stop(ctx)
}

// defaultNodeID derives a stable-ish instance identity when none is
// configured: hostname plus a random suffix so two pods on one host differ.
func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return host + "-" + suffix
}
