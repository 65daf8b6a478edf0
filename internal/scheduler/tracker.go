package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

// maxUpdateAttempts bounds the re-fetch and re-apply loop on version conflicts.
const maxUpdateAttempts = 3

// ResultSink receives the outcome of every attempt for the owning producer.
type ResultSink interface {
	PublishResult(ctx context.Context, ev domain.ExecutionResultEvent) error
}

// ExecutionResult is what a worker reports back after one attempt.
type ExecutionResult struct {
	RecordID   string // open execution record, empty if none was opened
	Attempt    int
	WorkerID   string
	Outcome    domain.Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Tracker applies execution outcomes to tasks.
type Tracker struct {
	tasks      repository.TaskRepository
	executions repository.ExecutionRepository
	sink       ResultSink
	retry      RetryPolicy
	logger     *slog.Logger
	now        func() time.Time
}

func NewTracker(
	tasks repository.TaskRepository,
	executions repository.ExecutionRepository,
	sink ResultSink,
	retry RetryPolicy,
	logger *slog.Logger,
) *Tracker {
	return &Tracker{
		tasks:      tasks,
		executions: executions,
		sink:       sink,
		retry:      retry,
		logger:     logger.With("component", "tracker"),
		now:        time.Now,
	}
}

// Record closes the execution record, moves the task through its lifecycle,
// persists it under optimistic concurrency and emits the result event.
func (tr *Tracker) Record(ctx context.Context, taskID string, res ExecutionResult) (*domain.ScheduleTask, error) {
	now := tr.now()
	rec := tr.closeRecord(ctx, taskID, res)

	var (
		task *domain.ScheduleTask
		from domain.Status
		err  error
	)
	for attempt := 1; ; attempt++ {
		task, err = tr.tasks.GetByID(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("get task: %w", err)
		}
		from = task.Status()
		expected := task.Metadata.Version

		if err = tr.apply(task, rec, now); err != nil {
			return nil, fmt.Errorf("apply %s outcome: %w", rec.Outcome, err)
		}

		err = tr.tasks.Update(ctx, task, expected)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("update task: %w", err)
		}
		metrics.VersionConflictsTotal.WithLabelValues("task").Inc()
		if attempt == maxUpdateAttempts {
			return nil, fmt.Errorf("update task after %d attempts: %w", attempt, err)
		}
		tr.logger.Debug("task changed concurrently, re-applying", "task_id", taskID, "attempt", attempt)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(rec.Outcome)).Inc()
	if rec.Outcome != domain.OutcomeSkipped {
		metrics.ExecutionDuration.WithLabelValues(string(rec.Outcome)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
	if to := task.Status(); to != from {
		metrics.TaskTransitionsTotal.WithLabelValues(string(to)).Inc()
		tr.logger.Info("task status changed", "task_id", taskID, "from", from, "to", to)
	}

	tr.emit(ctx, task, rec, now)
	return task, nil
}

func (tr *Tracker) apply(t *domain.ScheduleTask, rec domain.ExecutionRecord, now time.Time) error {
	switch rec.Outcome {
	case domain.OutcomeSuccess:
		next, err := NextExecution(t, now)
		if err != nil {
			return err
		}
		t.RecordSuccess(rec, next, now)
	case domain.OutcomeFailed, domain.OutcomeTimeout:
		retryAt := now.Add(tr.retry.Delay(t.Execution.Backoff, t.Execution.CurrentRetries))
		if exhausted := t.RecordFailure(rec, retryAt, now); exhausted {
			tr.logger.Warn("task exhausted its retries", "task_id", t.ID, "max_retries", t.Execution.MaxRetries, "error", rec.Error)
		}
	case domain.OutcomeSkipped:
		next, err := NextExecution(t, now)
		if err != nil {
			return err
		}
		t.RecordSkip(rec, next, now)
	default:
		return fmt.Errorf("unknown outcome %q", rec.Outcome)
	}
	return nil
}

// closeRecord writes the outcome to the execution history. A failed write is
// logged and does not stop the task update.
func (tr *Tracker) closeRecord(ctx context.Context, taskID string, res ExecutionResult) domain.ExecutionRecord {
	finished := res.FinishedAt
	duration := finished.Sub(res.StartedAt).Milliseconds()
	rec := domain.ExecutionRecord{
		ID:         res.RecordID,
		TaskID:     taskID,
		Attempt:    res.Attempt,
		Outcome:    res.Outcome,
		WorkerID:   res.WorkerID,
		StartedAt:  res.StartedAt,
		FinishedAt: &finished,
		DurationMS: &duration,
	}
	if res.Err != nil {
		msg := res.Err.Error()
		rec.Error = &msg
	}

	if rec.ID == "" {
		created, err := tr.executions.Create(ctx, &rec)
		if err != nil {
			tr.logger.Error("create execution record", "task_id", taskID, "error", err)
			return rec
		}
		return *created
	}
	if err := tr.executions.Complete(ctx, &rec); err != nil {
		tr.logger.Error("complete execution record", "task_id", taskID, "record_id", rec.ID, "error", err)
	}
	return rec
}

func (tr *Tracker) emit(ctx context.Context, t *domain.ScheduleTask, rec domain.ExecutionRecord, now time.Time) {
	if tr.sink == nil {
		return
	}
	ev := domain.ExecutionResultEvent{
		SourceModule:   t.Source.Module,
		SourceEntityID: t.Source.EntityID,
		TaskID:         t.ID,
		AccountID:      t.AccountID,
		Status:         rec.Outcome,
		TaskStatus:     t.Status(),
		Timestamp:      now,
		Error:          rec.Error,
	}
	if err := tr.sink.PublishResult(ctx, ev); err != nil {
		tr.logger.Error("publish execution result", "task_id", t.ID, "error", err)
	}
}
