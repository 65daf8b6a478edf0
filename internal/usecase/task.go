package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/ErlanBelekov/schedule-engine/internal/scheduler"
)

const defaultExecutionsLimit = 50

// TaskUsecase is the operator surface over schedule tasks. Tasks are created
// by the event gateway; here they are only inspected, paused, re-armed or
// cancelled.
type TaskUsecase struct {
	tasks      repository.TaskRepository
	executions repository.ExecutionRepository
	now        func() time.Time
}

func NewTaskUsecase(tasks repository.TaskRepository, executions repository.ExecutionRepository) *TaskUsecase {
	return &TaskUsecase{tasks: tasks, executions: executions, now: time.Now}
}

func (u *TaskUsecase) GetTask(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	t, err := u.tasks.GetForAccount(ctx, id, accountID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

type ListTasksInput struct {
	AccountID    string
	Status       domain.Status
	SourceModule string
	Cursor       string
	Limit        int
}

type ListTasksResult struct {
	Tasks      []*domain.ScheduleTask
	NextCursor *string
}

func (u *TaskUsecase) ListTasks(ctx context.Context, input ListTasksInput) (ListTasksResult, error) {
	if input.Status != "" && !input.Status.Valid() {
		return ListTasksResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, input.Status)
	}
	limit := clampLimit(input.Limit)

	repoInput := repository.ListTasksInput{
		AccountID:    input.AccountID,
		Status:       input.Status,
		SourceModule: input.SourceModule,
		Limit:        limit + 1,
	}
	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListTasksResult{}, err
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	tasks, err := u.tasks.List(ctx, repoInput)
	if err != nil {
		return ListTasksResult{}, fmt.Errorf("list tasks: %w", err)
	}

	var nextCursor *string
	if len(tasks) == limit+1 {
		last := tasks[limit-1]
		s := encodeCursor(last.Lifecycle.CreatedAt, last.ID)
		nextCursor = &s
		tasks = tasks[:limit]
	}
	return ListTasksResult{Tasks: tasks, NextCursor: nextCursor}, nil
}

// EnableTask resumes a paused task or re-arms a failed one. The next run is
// recomputed from the rule; a one-shot whose time has passed runs now.
func (u *TaskUsecase) EnableTask(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	t, err := u.tasks.GetForAccount(ctx, id, accountID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	now := u.now().UTC()

	next, err := u.nextRun(t, now)
	if err != nil {
		return nil, fmt.Errorf("enable task: %w", err)
	}
	expected := t.Metadata.Version
	if err := t.Enable(next, now); err != nil {
		return nil, fmt.Errorf("enable task: %w", err)
	}
	if err := u.tasks.Update(ctx, t, expected); err != nil {
		return nil, fmt.Errorf("enable task: %w", err)
	}
	return t, nil
}

func (u *TaskUsecase) nextRun(t *domain.ScheduleTask, now time.Time) (*time.Time, error) {
	if prev := t.Scheduling.NextExecutionTime; prev != nil && prev.After(now) {
		// Paused before its slot came up: keep it.
		return prev, nil
	}
	if t.Scheduling.Recurring {
		return scheduler.NextExecution(t, now)
	}
	if t.Scheduling.RecurrenceRule == nil {
		return &now, nil
	}
	next, err := scheduler.FirstExecution(*t.Scheduling.RecurrenceRule, t.Scheduling.Timezone, now)
	if err != nil {
		return nil, err
	}
	if next == nil {
		// One-shot slot already passed.
		return &now, nil
	}
	return next, nil
}

func (u *TaskUsecase) DisableTask(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	t, err := u.tasks.GetForAccount(ctx, id, accountID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	expected := t.Metadata.Version
	if err := t.Disable(u.now().UTC()); err != nil {
		return nil, fmt.Errorf("disable task: %w", err)
	}
	if err := u.tasks.Update(ctx, t, expected); err != nil {
		return nil, fmt.Errorf("disable task: %w", err)
	}
	return t, nil
}

// CancelTask is idempotent: cancelling a cancelled task returns it unchanged.
func (u *TaskUsecase) CancelTask(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	t, err := u.tasks.GetForAccount(ctx, id, accountID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	expected := t.Metadata.Version
	if !t.Cancel(u.now().UTC()) {
		return t, nil
	}
	if err := u.tasks.Update(ctx, t, expected); err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	return t, nil
}

func (u *TaskUsecase) ListExecutions(ctx context.Context, id, accountID string, limit int) ([]*domain.ExecutionRecord, error) {
	// Verify ownership
	if _, err := u.tasks.GetForAccount(ctx, id, accountID); err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = defaultExecutionsLimit
	}
	recs, err := u.executions.ListByTaskID(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return recs, nil
}
