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
	"github.com/ErlanBelekov/schedule-engine/internal/conflict"
	"github.com/ErlanBelekov/schedule-engine/internal/gateway"
	"github.com/ErlanBelekov/schedule-engine/internal/health"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/memory"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/schedule-engine/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/schedule-engine/internal/log"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/ErlanBelekov/schedule-engine/internal/scheduler"
	httptransport "github.com/ErlanBelekov/schedule-engine/internal/transport/http"
	"github.com/ErlanBelekov/schedule-engine/internal/transport/http/handler"
	"github.com/ErlanBelekov/schedule-engine/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

type stores struct {
	schedules  repository.ScheduleRepository
	tasks      repository.TaskRepository
	executions repository.ExecutionRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	deps := map[string]health.Pinger{}
	var st stores

	switch cfg.StoreBackend {
	case "memory":
		st = stores{
			schedules:  memory.NewScheduleStore(),
			tasks:      memory.NewTaskStore(),
			executions: memory.NewExecutionStore(),
		}
		logger.Warn("using in-memory stores, state is lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			stop()
			log.Fatalf("migrate: %v", err)
		}
		deps["postgres"] = pool
		st = stores{
			schedules:  postgres.NewScheduleRepository(pool, logger),
			tasks:      postgres.NewTaskRepository(pool),
			executions: postgres.NewExecutionRepository(pool),
		}
	}

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			stop()
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		deps["redis"] = health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	metrics.Register()
	checker := health.NewChecker(deps, logger, prometheus.DefaultRegisterer)

	// Schedules
	detector := conflict.NewDetector(st.schedules, conflict.Options{MinSlot: cfg.ConflictMinSlot()}, logger)
	resolver := conflict.NewResolver(st.schedules, detector, logger)
	scheduleUsecase := usecase.NewScheduleUsecase(st.schedules, detector, resolver)

	// Tasks and producer events
	taskUsecase := usecase.NewTaskUsecase(st.tasks, st.executions)
	gw := gateway.New(st.tasks, cfg.DefaultTimezone, logger)

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, httptransport.Handlers{
			Schedules: handler.NewScheduleHandler(scheduleUsecase, logger),
			Tasks:     handler.NewTaskHandler(taskUsecase, logger),
			Events:    handler.NewEventHandler(gw, logger),
		}, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	// In-memory stores cannot be shared with cmd/scheduler, so the
	// dispatcher runs in this process instead.
	if cfg.StoreBackend == "memory" {
		go runLocalDispatcher(ctx, cfg, st, rdb, logger)
	}

	go func() {
		logger.Info("server started", "port", cfg.Port, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func runLocalDispatcher(ctx context.Context, cfg *config.Config, st stores, rdb *goredis.Client, logger *slog.Logger) {
	var publisher gateway.Publisher = gateway.NewLogPublisher(logger)
	if cfg.EventPublisher == "redis" && rdb != nil {
		publisher = redis.NewPublisher(rdb)
	}

	registry := scheduler.NewRegistry()
	registry.Register("webhook", scheduler.NewWebhookExecutor())
	registry.SetFallback(scheduler.NewTriggerExecutor(publisher))

	leases := scheduler.NewLeaseTable()
	tracker := scheduler.NewTracker(st.tasks, st.executions, publisher,
		scheduler.NewRetryPolicy(cfg.RetryBaseDelay(), cfg.RetryMaxDelay()), logger)

	dispatcher := scheduler.NewDispatcher(st.tasks, st.executions, leases, registry, tracker, logger, scheduler.DispatcherConfig{
		Interval:       cfg.DispatchInterval(),
		BatchSize:      cfg.DispatchBatchSize,
		Workers:        cfg.WorkerCount,
		DefaultTimeout: cfg.DefaultTaskTimeout(),
		LeaseGrace:     cfg.LeaseGrace(),
		MisfireGrace:   cfg.MisfireGrace(),
	})
	reaper := scheduler.NewReaper(leases, st.executions, logger, cfg.ReaperInterval(), cfg.DefaultTaskTimeout()+cfg.LeaseGrace())

	go reaper.Start(ctx)
	dispatcher.Start(ctx)
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
