package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

// Reaper cleans up after crashed dispatchers: expired leases are dropped and
// execution records that never closed are marked as timed out. The task
// itself is still due, so the next dispatch cycle retries it.
type Reaper struct {
	leases     repository.LeaseStore
	executions repository.ExecutionRepository
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func NewReaper(
	leases repository.LeaseStore,
	executions repository.ExecutionRepository,
	logger *slog.Logger,
	interval time.Duration,
	staleAfter time.Duration,
) *Reaper {
	return &Reaper{
		leases:     leases,
		executions: executions,
		logger:     logger.With("component", "reaper"),
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		now:        time.Now,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "stale_after", r.staleAfter)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}

func (r *Reaper) Reap(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	now := r.now()

	purged, err := r.leases.PurgeExpired(ctx, now)
	if err != nil {
		r.logger.Error("purge expired leases", "error", err)
	} else if purged > 0 {
		metrics.ReaperActionsTotal.WithLabelValues("lease_purged").Add(float64(purged))
		r.logger.Info("purged expired leases", "count", purged)
	}

	closed, err := r.executions.CloseStale(ctx, now.Add(-r.staleAfter), r.batch)
	if err != nil {
		r.logger.Error("close stale executions", "error", err)
		return
	}
	if len(closed) > 0 {
		metrics.ReaperActionsTotal.WithLabelValues("execution_timed_out").Add(float64(len(closed)))
		for _, rec := range closed {
			r.logger.Warn("closed orphaned execution", "task_id", rec.TaskID, "record_id", rec.ID, "worker_id", rec.WorkerID)
		}
	}
}
