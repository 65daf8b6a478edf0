package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

type ListTasksInput struct {
	AccountID    string
	Status       domain.Status // empty = all statuses
	SourceModule string        // empty = all modules
	CursorTime   *time.Time    // cursor on (created_at DESC, id DESC)
	CursorID     string
	Limit        int
}

type TaskRepository interface {
	Create(ctx context.Context, t *domain.ScheduleTask) (*domain.ScheduleTask, error)

	// GetByID is unscoped and used by the scheduler; request paths go
	// through GetForAccount.
	GetByID(ctx context.Context, id string) (*domain.ScheduleTask, error)
	GetForAccount(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error)

	// GetBySource returns the most recently created task for a producer
	// entity, or domain.ErrTaskNotFound.
	GetBySource(ctx context.Context, accountID, module, entityID string) (*domain.ScheduleTask, error)

	List(ctx context.Context, input ListTasksInput) ([]*domain.ScheduleTask, error)

	// ListDue returns enabled pending/active tasks with next_execution_time <= now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduleTask, error)

	// Update writes t if the stored version still equals expectedVersion and
	// fails with *domain.ConcurrencyConflict otherwise.
	Update(ctx context.Context, t *domain.ScheduleTask, expectedVersion int64) error
}
