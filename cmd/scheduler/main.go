package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/schedule-engine/config"
	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	"github.com/ErlanBelekov/schedule-engine/internal/health"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/schedule-engine/internal/log"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/ErlanBelekov/schedule-engine/internal/scheduler"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Producer modules whose tasks are run by publishing a trigger back to them.
var triggerModules = []string{
	domain.ModuleReminder,
	domain.ModuleTask,
	domain.ModuleGoal,
	domain.ModuleNotification,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreBackend != "postgres" {
		log.Fatalf("config: the scheduler needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	deps := map[string]health.Pinger{"postgres": pool}

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			stop()
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		deps["redis"] = health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("redis connected")
	}

	metrics.Register()
	checker := health.NewChecker(deps, logger, prometheus.DefaultRegisterer)

	tasks := postgres.NewTaskRepository(pool)
	executions := postgres.NewExecutionRepository(pool)

	var leases repository.LeaseStore
	switch cfg.LeaseBackend {
	case "redis":
		leases = redis.NewLeaseStore(rdb)
	case "memory":
		// Only safe with a single scheduler replica.
		leases = scheduler.NewLeaseTable()
	default:
		leases = postgres.NewLeaseRepository(pool)
	}

	var publisher gateway.Publisher = gateway.NewLogPublisher(logger)
	if cfg.EventPublisher == "redis" {
		publisher = redis.NewPublisher(rdb)
	}

	registry := scheduler.NewRegistry()
	trigger := scheduler.NewTriggerExecutor(publisher)
	for _, module := range triggerModules {
		registry.Register(module, trigger)
	}
	registry.Register("webhook", scheduler.NewWebhookExecutor())
	registry.SetFallback(trigger)

	tracker := scheduler.NewTracker(
		tasks,
		executions,
		publisher,
		scheduler.NewRetryPolicy(cfg.RetryBaseDelay(), cfg.RetryMaxDelay()),
		logger,
	)

	dispatcher := scheduler.NewDispatcher(tasks, executions, leases, registry, tracker, logger, scheduler.DispatcherConfig{
		Interval:       cfg.DispatchInterval(),
		BatchSize:      cfg.DispatchBatchSize,
		Workers:        cfg.WorkerCount,
		DefaultTimeout: cfg.DefaultTaskTimeout(),
		LeaseGrace:     cfg.LeaseGrace(),
		MisfireGrace:   cfg.MisfireGrace(),
	})

	// A run is stale once it has outlived the longest lease the dispatcher
	// would have taken for it.
	reaper := scheduler.NewReaper(leases, executions, logger, cfg.ReaperInterval(), cfg.DefaultTaskTimeout()+cfg.LeaseGrace())

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		reaper.Start(gctx)
		return nil
	})
	if rdb != nil {
		sub := redis.NewSubscriber(rdb, gateway.New(tasks, cfg.DefaultTimezone, logger), logger)
		g.Go(func() error { return sub.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
