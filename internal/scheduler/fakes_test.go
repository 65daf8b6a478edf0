package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cloneTask(t *domain.ScheduleTask) *domain.ScheduleTask {
	c := *t
	if t.Scheduling.NextExecutionTime != nil {
		next := *t.Scheduling.NextExecutionTime
		c.Scheduling.NextExecutionTime = &next
	}
	c.Execution.Recent = slices.Clone(t.Execution.Recent)
	return &c
}

// memTasks is a TaskRepository backed by a map.
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*domain.ScheduleTask
	seq   int

	// beforeUpdate runs under the lock before the version check.
	beforeUpdate func(stored *domain.ScheduleTask)
	updates      int

	// afterListDue runs once the due snapshot is taken, outside the lock.
	afterListDue func()
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[string]*domain.ScheduleTask)}
}

func (m *memTasks) Create(_ context.Context, t *domain.ScheduleTask) (*domain.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		m.seq++
		t.ID = fmt.Sprintf("task-%d", m.seq)
	}
	m.tasks[t.ID] = cloneTask(t)
	return cloneTask(t), nil
}

func (m *memTasks) GetByID(_ context.Context, id string) (*domain.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (m *memTasks) GetForAccount(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	t, err := m.GetByID(ctx, id)
	if err != nil || t.AccountID != accountID {
		return nil, domain.ErrTaskNotFound
	}
	return t, nil
}

func (m *memTasks) GetBySource(context.Context, string, string, string) (*domain.ScheduleTask, error) {
	return nil, domain.ErrTaskNotFound
}

func (m *memTasks) List(context.Context, repository.ListTasksInput) ([]*domain.ScheduleTask, error) {
	return nil, nil
}

func (m *memTasks) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.ScheduleTask, error) {
	due := m.snapshotDue(now, limit)
	if m.afterListDue != nil {
		m.afterListDue()
	}
	return due, nil
}

func (m *memTasks) snapshotDue(now time.Time, limit int) []*domain.ScheduleTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.ScheduleTask
	for _, t := range m.tasks {
		if t.CanExecute(now) {
			due = append(due, cloneTask(t))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	return due
}

func (m *memTasks) Update(_ context.Context, t *domain.ScheduleTask, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[t.ID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(stored)
	}
	if stored.Metadata.Version != expectedVersion {
		return &domain.ConcurrencyConflict{Entity: "task", ID: t.ID, ExpectedVersion: expectedVersion}
	}
	m.updates++
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *memTasks) get(id string) *domain.ScheduleTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTask(m.tasks[id])
}

// memExecutions is an ExecutionRepository backed by a slice.
type memExecutions struct {
	mu      sync.Mutex
	records []*domain.ExecutionRecord
	cutoffs []time.Time
}

func (m *memExecutions) Create(_ context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	c.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	m.records = append(m.records, &c)
	out := c
	return &out, nil
}

func (m *memExecutions) Complete(_ context.Context, rec *domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == rec.ID {
			c := *rec
			m.records[i] = &c
			return nil
		}
	}
	return fmt.Errorf("record %s not found", rec.ID)
}

func (m *memExecutions) ListByTaskID(_ context.Context, taskID string, _ int) ([]*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExecutionRecord
	for _, r := range m.records {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memExecutions) CloseStale(_ context.Context, cutoff time.Time, _ int) ([]*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	var closed []*domain.ExecutionRecord
	for _, r := range m.records {
		if r.Outcome == "" && r.StartedAt.Before(cutoff) {
			r.Outcome = domain.OutcomeTimeout
			closed = append(closed, r)
		}
	}
	return closed, nil
}

func (m *memExecutions) outcomes() []domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Outcome, len(m.records))
	for i, r := range m.records {
		out[i] = r.Outcome
	}
	return out
}

// recordingSink captures published result and trigger events.
type recordingSink struct {
	mu       sync.Mutex
	results  []domain.ExecutionResultEvent
	triggers []domain.TriggerEvent
}

func (s *recordingSink) PublishResult(_ context.Context, ev domain.ExecutionResultEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, ev)
	return nil
}

func (s *recordingSink) PublishTrigger(_ context.Context, ev domain.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, ev)
	return nil
}

// clock is a settable time source shared by the components under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
