package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"staffplanner/internal/cache"
	"staffplanner/internal/config"
	"staffplanner/internal/engine"
	"staffplanner/internal/httpserver"
	"staffplanner/internal/repository"
	"staffplanner/pkg/db"
	"staffplanner/pkg/mq"
	"staffplanner/pkg/outbox"
	"staffplanner/pkg/redis"
	"staffplanner/pkg/util"
)

// App holds the wired engine and the infrastructure it runs on.
type App struct {
	Engine     *engine.Engine
	Outbox     *outbox.Repository      // postgres driver only
	Dispatcher *outbox.Dispatcher      // nil when the outbox is disabled
	Memory     *repository.MemoryStore // memory driver only
	Readiness  []httpserver.ReadinessCheck

	closers []func()
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build wires the engine for the configured storage driver. Redis and RabbitMQ are optional:
// without Redis there is no capacity cache or auto-resolve guard, without RabbitMQ outbox rows
// accumulate until a dispatcher runs.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	var (
		store     engine.AllocationStore
		capacity  engine.CapacityLookup
		employees engine.EmployeeDirectory
		ledger    engine.ConflictLedger
		pool      *pgxpool.Pool
	)

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		mem := repository.NewMemoryStore(logger)
		a.Memory = mem
		store, capacity, employees, ledger = mem, mem, mem, mem
	default:
		var err error
		pool, err = db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := repository.Migrate(ctx, pool, logger); err != nil {
			a.Close()
			return nil, err
		}
		store = repository.NewAllocationRepository(pool, logger)
		capacity = repository.NewCapacityRepository(pool, logger)
		employees = repository.NewEmployeeRepository(pool, logger)
		ledger = repository.NewConflictRepository(pool, logger)
		a.Outbox = outbox.NewRepository(pool, logger)
		a.Readiness = append(a.Readiness, httpserver.ReadinessCheck{Name: "db", Check: pool.Ping})
	}

	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		var err error
		rdb, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		capacity = cache.NewCapacityCache(capacity, rdb, cfg.Planner.CapacityCacheTTL, logger)
		a.Readiness = append(a.Readiness, httpserver.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	a.Engine = engine.New(store, capacity, employees, ledger, engine.Config{
		DefaultDailyCapacity:   cfg.Planner.DefaultDailyCapacity,
		OverutilizedThreshold:  cfg.Planner.OverutilizedThreshold,
		UnderutilizedThreshold: cfg.Planner.UnderutilizedThreshold,
		MaxCommitRetries:       cfg.Planner.MaxCommitRetries,
		AutoResolveReason:      cfg.Planner.AutoResolveReason,
	}, logger)
	if rdb != nil {
		a.Engine.WithResolutionGuard(util.NewDeduper(rdb, "autoresolve", cfg.Planner.ResolutionGuardTTL, logger))
	}

	return a, nil
}

// StartOutbox connects the publisher and creates the dispatcher. The caller runs
// Dispatcher.Start in its own goroutine.
func (a *App) StartOutbox(cfg *config.Config, logger *zap.Logger) error {
	if a.Outbox == nil || !cfg.Outbox.Enabled {
		logger.Info("Outbox dispatcher disabled", zap.String("driver", cfg.Storage.Driver))
		return nil
	}
	if cfg.MQ.URL == "" {
		return fmt.Errorf("outbox is enabled but mq.url is empty")
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
	if err != nil {
		return fmt.Errorf("failed to init MQ publisher: %w", err)
	}
	a.closers = append(a.closers, publisher.Close)
	a.Readiness = append(a.Readiness, httpserver.ReadinessCheck{
		Name: "mq",
		Check: func(context.Context) error {
			if !publisher.IsConnected() {
				return mq.ErrNotConnected
			}
			return nil
		},
	})

	a.Dispatcher = outbox.NewDispatcher(a.Outbox, publisher, logger).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	return nil
}
