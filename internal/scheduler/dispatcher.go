package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

type DispatcherConfig struct {
	Interval       time.Duration
	BatchSize      int
	Workers        int
	DefaultTimeout time.Duration
	LeaseGrace     time.Duration
	// MisfireGrace is how late a recurring run may start before it is
	// recorded as skipped. Zero disables misfire handling.
	MisfireGrace time.Duration
}

// Dispatcher finds due tasks, leases them and runs them on a bounded pool.
type Dispatcher struct {
	id         string
	tasks      repository.TaskRepository
	executions repository.ExecutionRepository
	leases     repository.LeaseStore
	executors  *Registry
	tracker    *Tracker
	logger     *slog.Logger
	cfg        DispatcherConfig
	sem        chan struct{}
	wg         sync.WaitGroup
	now        func() time.Time
}

func NewDispatcher(
	tasks repository.TaskRepository,
	executions repository.ExecutionRepository,
	leases repository.LeaseStore,
	executors *Registry,
	tracker *Tracker,
	logger *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Dispatcher{
		id:         id,
		tasks:      tasks,
		executions: executions,
		leases:     leases,
		executors:  executors,
		tracker:    tracker,
		logger:     logger.With("component", "dispatcher", "dispatcher_id", id),
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Workers),
		now:        time.Now,
	}
}

// Start ticks until ctx is done, then waits for in-flight runs to record
// their outcome.
func (d *Dispatcher) Start(ctx context.Context) {
	metrics.DispatcherStartTime.SetToCurrentTime()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.cfg.Interval, "workers", d.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			metrics.DispatcherShutdownsTotal.Inc()
			d.logger.Info("dispatcher shut down")
			return
		case <-ticker.C:
			d.Dispatch(ctx)
		}
	}
}

// Dispatch runs one cycle and returns how many tasks were handed to workers.
func (d *Dispatcher) Dispatch(ctx context.Context) int {
	start := time.Now()
	defer func() { metrics.DispatchCycleDuration.Observe(time.Since(start).Seconds()) }()

	available := cap(d.sem) - len(d.sem)
	if available == 0 {
		return 0
	}

	now := d.now()
	due, err := d.tasks.ListDue(ctx, now, min(available, d.cfg.BatchSize))
	if err != nil {
		d.logger.Error("list due tasks", "error", err)
		return 0
	}

	started := 0
	for _, t := range due {
		if !t.CanExecute(now) {
			continue
		}

		lease, ok, err := d.leases.Acquire(ctx, t.ID, d.id, d.timeoutFor(t)+d.cfg.LeaseGrace)
		if err != nil {
			d.logger.Error("acquire lease", "task_id", t.ID, "error", err)
			continue
		}
		if !ok {
			metrics.LeaseContentionTotal.Inc()
			continue
		}

		// The due list may predate a run that finished and released its
		// lease since; only the stored task under the lease is authoritative.
		fresh, err := d.tasks.GetByID(ctx, t.ID)
		if err != nil {
			d.logger.Error("reload leased task", "task_id", t.ID, "error", err)
			d.release(ctx, lease)
			continue
		}
		if !fresh.CanExecute(now) || !sameSlot(fresh, t) {
			d.logger.Debug("task changed since listing, skipping", "task_id", t.ID)
			d.release(ctx, lease)
			continue
		}
		t = fresh

		if d.misfired(t, now) {
			d.skip(ctx, t, lease, now)
			continue
		}

		d.sem <- struct{}{}
		d.wg.Add(1)
		started++
		metrics.TasksDispatchedTotal.Inc()
		go func(t *domain.ScheduleTask, lease domain.Lease) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			metrics.TasksInFlight.Inc()
			defer metrics.TasksInFlight.Dec()
			d.run(ctx, t, lease)
		}(t, lease)
	}

	if started > 0 {
		d.logger.Info("dispatched tasks", "count", started, "slots_used", len(d.sem), "slots_total", cap(d.sem))
	}
	return started
}

// Wait blocks until every run started by Dispatch has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) run(ctx context.Context, t *domain.ScheduleTask, lease domain.Lease) {
	// Outcomes are recorded even when shutdown cancels ctx mid-run.
	recordCtx := context.WithoutCancel(ctx)
	defer d.release(recordCtx, lease)

	startedAt := d.now()
	metrics.DispatchLag.Observe(startedAt.Sub(*t.Scheduling.NextExecutionTime).Seconds())
	attempt := t.Execution.CurrentRetries + 1

	// Open the record first so a crash leaves a visible open entry for the reaper.
	rec, err := d.executions.Create(recordCtx, &domain.ExecutionRecord{
		TaskID:    t.ID,
		Attempt:   attempt,
		WorkerID:  d.id,
		StartedAt: startedAt,
	})
	if err != nil {
		d.logger.Error("create execution record, aborting run", "task_id", t.ID, "error", err)
		return
	}

	d.logger.Info("executing task", "task_id", t.ID, "task_type", t.Basic.TaskType, "attempt", attempt)

	outcome, execErr := d.execute(ctx, t, attempt)
	if errors.Is(execErr, errInterrupted) {
		d.abandon(recordCtx, rec, execErr)
		return
	}
	if execErr != nil {
		d.logger.Warn("task attempt failed", "task_id", t.ID, "outcome", outcome, "error", execErr)
	}

	_, err = d.tracker.Record(recordCtx, t.ID, ExecutionResult{
		RecordID:   rec.ID,
		Attempt:    attempt,
		WorkerID:   d.id,
		Outcome:    outcome,
		Err:        execErr,
		StartedAt:  startedAt,
		FinishedAt: d.now(),
	})
	if err != nil {
		d.logger.Error("record execution", "task_id", t.ID, "error", err)
	}
}

// execute runs the side effect under the task timeout. Panics become failures.
func (d *Dispatcher) execute(ctx context.Context, t *domain.ScheduleTask, attempt int) (outcome domain.Outcome, err error) {
	exec, ok := d.executors.For(t.Basic.TaskType)
	if !ok {
		return domain.OutcomeFailed, &domain.ExecutionError{
			TaskID: t.ID, Outcome: domain.OutcomeFailed,
			Err: fmt.Errorf("no executor for task type %q", t.Basic.TaskType),
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(t))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			outcome = domain.OutcomeFailed
			err = &domain.ExecutionError{TaskID: t.ID, Outcome: outcome, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	runErr := exec.Execute(runCtx, t, attempt)
	switch {
	case ctx.Err() != nil && errors.Is(runCtx.Err(), context.Canceled):
		return "", errInterrupted
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		cause := runErr
		if cause == nil {
			cause = runCtx.Err()
		}
		return domain.OutcomeTimeout, &domain.ExecutionError{TaskID: t.ID, Outcome: domain.OutcomeTimeout, Err: cause}
	case runErr != nil:
		return domain.OutcomeFailed, &domain.ExecutionError{TaskID: t.ID, Outcome: domain.OutcomeFailed, Err: runErr}
	}
	return domain.OutcomeSuccess, nil
}

func (d *Dispatcher) misfired(t *domain.ScheduleTask, now time.Time) bool {
	if d.cfg.MisfireGrace <= 0 || !t.Scheduling.Recurring || t.Execution.CurrentRetries > 0 {
		return false
	}
	return now.Sub(*t.Scheduling.NextExecutionTime) > d.cfg.MisfireGrace
}

func (d *Dispatcher) skip(ctx context.Context, t *domain.ScheduleTask, lease domain.Lease, now time.Time) {
	defer d.release(ctx, lease)
	metrics.MisfiresTotal.Inc()
	d.logger.Warn("skipping missed run", "task_id", t.ID, "scheduled_for", *t.Scheduling.NextExecutionTime)

	_, err := d.tracker.Record(ctx, t.ID, ExecutionResult{
		Attempt:    t.Execution.CurrentRetries + 1,
		WorkerID:   d.id,
		Outcome:    domain.OutcomeSkipped,
		Err:        fmt.Errorf("missed run scheduled for %s", t.Scheduling.NextExecutionTime.Format(time.RFC3339)),
		StartedAt:  now,
		FinishedAt: now,
	})
	if err != nil {
		d.logger.Error("record skipped run", "task_id", t.ID, "error", err)
	}
}

var errInterrupted = errors.New("run interrupted by dispatcher shutdown")

// abandon closes the execution record of a run cut short by shutdown. The
// task itself is left untouched so the slot runs again without spending a
// retry.
func (d *Dispatcher) abandon(ctx context.Context, rec *domain.ExecutionRecord, cause error) {
	finished := d.now()
	duration := finished.Sub(rec.StartedAt).Milliseconds()
	msg := cause.Error()
	rec.Outcome = domain.OutcomeSkipped
	rec.FinishedAt = &finished
	rec.DurationMS = &duration
	rec.Error = &msg
	if err := d.executions.Complete(ctx, rec); err != nil {
		d.logger.Error("complete interrupted execution record", "task_id", rec.TaskID, "error", err)
	}
	d.logger.Warn("run interrupted by shutdown, slot left due", "task_id", rec.TaskID, "attempt", rec.Attempt)
}

// sameSlot reports whether both snapshots point at the same due slot.
func sameSlot(a, b *domain.ScheduleTask) bool {
	an, bn := a.Scheduling.NextExecutionTime, b.Scheduling.NextExecutionTime
	if an == nil || bn == nil {
		return an == bn
	}
	return an.Equal(*bn) && a.Execution.CurrentRetries == b.Execution.CurrentRetries
}

func (d *Dispatcher) release(ctx context.Context, lease domain.Lease) {
	if err := d.leases.Release(ctx, lease); err != nil {
		d.logger.Warn("release lease", "task_id", lease.TaskID, "error", err)
	}
}

func (d *Dispatcher) timeoutFor(t *domain.ScheduleTask) time.Duration {
	if t.Execution.TimeoutSeconds != nil && *t.Execution.TimeoutSeconds > 0 {
		return time.Duration(*t.Execution.TimeoutSeconds) * time.Second
	}
	return d.cfg.DefaultTimeout
}
