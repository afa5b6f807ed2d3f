package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/opengovern/og-util/pkg/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/opengovern/og-search-migration/services/migration/db"
	"github.com/opengovern/og-search-migration/services/migration/discovery"
	"github.com/opengovern/og-search-migration/services/migration/runlock"
	"github.com/opengovern/og-search-migration/services/migration/worker"
)

const (
	DiscoveryInterval = 1 * time.Minute
	MigrationInterval = 30 * time.Second

	// Budgets per task kind. soft < hard < lock TTL must hold: the hard
	// limit gives the soft exit headroom, and the TTL must outlive a worker
	// that crashes while holding the lock.
	MigrationSoftTimeLimit   = 5 * time.Minute
	MigrationHardTimeLimit   = 6 * time.Minute
	MigrationLockTTL         = 7 * time.Minute
	MigrationLockAcquireWait = 2 * time.Minute

	DiscoverySoftTimeLimit   = 60 * time.Second
	DiscoveryHardTimeLimit   = 90 * time.Second
	DiscoveryLockTTL         = 120 * time.Second
	DiscoveryLockAcquireWait = 15 * time.Second

	MigrationLockKeyPrefix = "search-migration:migrate:"
	DiscoveryLockKeyPrefix = "search-migration:discover:"
)

var TickCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "opengovernance",
	Subsystem: "search_migration",
	Name:      "scheduler_ticks_total",
	Help:      "Count of per-tenant scheduler task runs",
}, []string{"task", "status"})

var LockContentionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "opengovernance",
	Subsystem: "search_migration",
	Name:      "scheduler_lock_contention_total",
	Help:      "Count of task runs skipped because another instance held the tenant lock",
}, []string{"task"})

// Locker is the run-lock discipline the scheduler needs: a blocking acquire
// that reports contention as runlock.ErrNotObtained.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, wait time.Duration) (runlock.Lock, error)
}

// Scheduler drives the two periodic task kinds: the light catalog discovery
// pass and the heavy migration pass. Tenants run independently; within a
// tenant the redis run lock keeps at most one instance of each task kind.
type Scheduler struct {
	logger *zap.Logger
	db     db.Database
	cursor *discovery.Cursor
	worker *worker.Worker
	lock   Locker
}

func New(logger *zap.Logger, database db.Database, cursor *discovery.Cursor, w *worker.Worker, lock Locker) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		db:     database,
		cursor: cursor,
		worker: w,
		lock:   lock,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	go s.RunDiscoveryLoop(ctx)
	go s.RunMigrationLoop(ctx)
}

func (s *Scheduler) RunDiscoveryLoop(ctx context.Context) {
	s.logger.Info("scheduling discovery on a timer")

	t := ticker.NewTicker(DiscoveryInterval, time.Second*10)
	defer t.Stop()

	for ; ; <-t.C {
		if err := s.runDiscovery(ctx); err != nil {
			s.logger.Error("failed to run discovery", zap.Error(err))
			continue
		}
	}
}

func (s *Scheduler) RunMigrationLoop(ctx context.Context) {
	s.logger.Info("scheduling migration on a timer")

	t := ticker.NewTicker(MigrationInterval, time.Second*10)
	defer t.Stop()

	for ; ; <-t.C {
		if err := s.runMigration(ctx); err != nil {
			s.logger.Error("failed to run migration", zap.Error(err))
			continue
		}
	}
}

func (s *Scheduler) runDiscovery(ctx context.Context) error {
	tenants, err := s.db.ListCatalogTenants()
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		if err := s.discoverTenant(ctx, tenantID); err != nil {
			TickCount.WithLabelValues("discovery", "failure").Inc()
			s.logger.Error("tenant discovery failed",
				zap.String("tenantID", tenantID), zap.Error(err))
			continue
		}
		TickCount.WithLabelValues("discovery", "successful").Inc()
	}
	return nil
}

func (s *Scheduler) runMigration(ctx context.Context) error {
	tenants, err := s.db.ListCatalogTenants()
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		if err := s.migrateTenant(ctx, tenantID); err != nil {
			TickCount.WithLabelValues("migration", "failure").Inc()
			s.logger.Error("tenant migration pass failed",
				zap.String("tenantID", tenantID), zap.Error(err))
			continue
		}
		TickCount.WithLabelValues("migration", "successful").Inc()
	}
	return nil
}

func (s *Scheduler) discoverTenant(ctx context.Context, tenantID string) error {
	lock, err := s.lock.Acquire(ctx, DiscoveryLockKeyPrefix+tenantID, DiscoveryLockTTL, DiscoveryLockAcquireWait)
	if err != nil {
		if errors.Is(err, runlock.ErrNotObtained) {
			LockContentionCount.WithLabelValues("discovery").Inc()
			s.logger.Debug("discovery already running for tenant, skipping",
				zap.String("tenantID", tenantID))
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.logger.Warn("failed to release discovery lock",
				zap.String("tenantID", tenantID), zap.Error(err))
		}
	}()

	hardCtx, cancel := context.WithTimeout(ctx, DiscoveryHardTimeLimit)
	defer cancel()

	deadline := time.Now().Add(DiscoverySoftTimeLimit)
	return s.cursor.RunOnce(hardCtx, tenantID, deadline)
}

func (s *Scheduler) migrateTenant(ctx context.Context, tenantID string) error {
	lock, err := s.lock.Acquire(ctx, MigrationLockKeyPrefix+tenantID, MigrationLockTTL, MigrationLockAcquireWait)
	if err != nil {
		if errors.Is(err, runlock.ErrNotObtained) {
			LockContentionCount.WithLabelValues("migration").Inc()
			s.logger.Debug("migration already running for tenant, skipping",
				zap.String("tenantID", tenantID))
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.logger.Warn("failed to release migration lock",
				zap.String("tenantID", tenantID), zap.Error(err))
		}
	}()

	hardCtx, cancel := context.WithTimeout(ctx, MigrationHardTimeLimit)
	defer cancel()

	deadline := time.Now().Add(MigrationSoftTimeLimit)
	return s.worker.RunOnce(hardCtx, tenantID, deadline)
}
