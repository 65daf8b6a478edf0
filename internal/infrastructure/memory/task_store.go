// Package memory holds map-backed repositories for local runs without a
// database. They honor the same version and ordering contracts as the
// PostgreSQL repositories.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/google/uuid"
)

type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.ScheduleTask
}

var _ repository.TaskRepository = (*TaskStore)(nil)

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: map[string]*domain.ScheduleTask{}}
}

func cloneTask(t *domain.ScheduleTask) *domain.ScheduleTask {
	c := *t
	c.Execution.Recent = slices.Clone(t.Execution.Recent)
	c.Metadata.Tags = slices.Clone(t.Metadata.Tags)
	c.AlertConfig.Methods = slices.Clone(t.AlertConfig.Methods)
	c.AlertConfig.SnoozeOptions = slices.Clone(t.AlertConfig.SnoozeOptions)
	return &c
}

func (s *TaskStore) Create(_ context.Context, t *domain.ScheduleTask) (*domain.ScheduleTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Source.Module != "" && !t.Terminal() {
		for _, other := range s.tasks {
			if other.AccountID == t.AccountID && other.Source == t.Source && !other.Terminal() {
				return nil, domain.ErrDuplicateSource
			}
		}
	}
	c := cloneTask(t)
	c.ID = uuid.NewString()
	s.tasks[c.ID] = c
	return cloneTask(c), nil
}

func (s *TaskStore) GetByID(_ context.Context, id string) (*domain.ScheduleTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *TaskStore) GetForAccount(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.AccountID != accountID {
		return nil, domain.ErrTaskNotFound
	}
	return t, nil
}

func (s *TaskStore) GetBySource(_ context.Context, accountID, module, entityID string) (*domain.ScheduleTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.ScheduleTask
	for _, t := range s.tasks {
		if t.AccountID != accountID || t.Source.Module != module || t.Source.EntityID != entityID {
			continue
		}
		if latest == nil || latest.Terminal() && !t.Terminal() ||
			latest.Terminal() == t.Terminal() && t.Lifecycle.CreatedAt.After(latest.Lifecycle.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(latest), nil
}

func (s *TaskStore) List(_ context.Context, input repository.ListTasksInput) ([]*domain.ScheduleTask, error) {
	s.mu.RLock()
	var out []*domain.ScheduleTask
	for _, t := range s.tasks {
		if t.AccountID != input.AccountID {
			continue
		}
		if input.Status != "" && t.Scheduling.Status != input.Status {
			continue
		}
		if input.SourceModule != "" && t.Source.Module != input.SourceModule {
			continue
		}
		if input.CursorTime != nil && !before(t.Lifecycle.CreatedAt, t.ID, *input.CursorTime, input.CursorID) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.ScheduleTask) int {
		if c := b.Lifecycle.CreatedAt.Compare(a.Lifecycle.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return limit(out, input.Limit), nil
}

func (s *TaskStore) ListDue(_ context.Context, now time.Time, n int) ([]*domain.ScheduleTask, error) {
	s.mu.RLock()
	var out []*domain.ScheduleTask
	for _, t := range s.tasks {
		if t.CanExecute(now) {
			out = append(out, cloneTask(t))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.ScheduleTask) int {
		return a.Scheduling.NextExecutionTime.Compare(*b.Scheduling.NextExecutionTime)
	})
	return limit(out, n), nil
}

func (s *TaskStore) Update(_ context.Context, t *domain.ScheduleTask, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[t.ID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if stored.Metadata.Version != expectedVersion {
		return &domain.ConcurrencyConflict{Entity: "task", ID: t.ID, ExpectedVersion: expectedVersion}
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

// before reports whether (at, id) sorts strictly before the cursor in
// descending order.
func before(at time.Time, id string, cursorAt time.Time, cursorID string) bool {
	if !at.Equal(cursorAt) {
		return at.Before(cursorAt)
	}
	return id < cursorID
}

func limit[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
