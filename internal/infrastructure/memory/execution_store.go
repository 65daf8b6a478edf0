package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/google/uuid"
)

type ExecutionStore struct {
	mu      sync.Mutex
	records []*domain.ExecutionRecord
	now     func() time.Time
}

var _ repository.ExecutionRepository = (*ExecutionStore)(nil)

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{now: time.Now}
}

func (s *ExecutionStore) Create(_ context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	c.ID = uuid.NewString()
	s.records = append(s.records, &c)
	out := c
	return &out, nil
}

func (s *ExecutionStore) Complete(_ context.Context, rec *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == rec.ID && r.Outcome == "" {
			*r = *rec
			return nil
		}
	}
	return nil
}

func (s *ExecutionStore) ListByTaskID(_ context.Context, taskID string, n int) ([]*domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ExecutionRecord
	for _, r := range s.records {
		if r.TaskID == taskID {
			c := *r
			out = append(out, &c)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.ExecutionRecord) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return limit(out, n), nil
}

func (s *ExecutionStore) CloseStale(_ context.Context, cutoff time.Time, n int) ([]*domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	msg := "dispatcher stopped before the run finished"

	var out []*domain.ExecutionRecord
	for _, r := range s.records {
		if n > 0 && len(out) == n {
			break
		}
		if r.Outcome != "" || !r.StartedAt.Before(cutoff) {
			continue
		}
		ms := now.Sub(r.StartedAt).Milliseconds()
		r.Outcome = domain.OutcomeTimeout
		r.FinishedAt = &now
		r.DurationMS = &ms
		r.Error = &msg
		c := *r
		out = append(out, &c)
	}
	return out, nil
}
