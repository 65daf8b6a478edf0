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

// ScheduleStore keeps entries with one version counter per account. The
// whole store is guarded by one mutex, so a snapshot is always consistent.
type ScheduleStore struct {
	mu       sync.Mutex
	entries  map[string]*domain.ScheduleEntry
	versions map[string]int64
	audits   []*domain.ResolutionAudit
}

var _ repository.ScheduleRepository = (*ScheduleStore)(nil)

func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{entries: map[string]*domain.ScheduleEntry{}, versions: map[string]int64{}}
}

func cloneEntry(e *domain.ScheduleEntry) *domain.ScheduleEntry {
	c := *e
	c.Attendees = slices.Clone(e.Attendees)
	c.ConflictingSchedules = slices.Clone(e.ConflictingSchedules)
	return &c
}

func (s *ScheduleStore) Snapshot(_ context.Context, accountID string, from, to time.Time, excludeID string) (repository.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := repository.Snapshot{AccountVersion: s.versions[accountID]}
	for _, e := range s.entries {
		if e.AccountID != accountID || !e.Active || e.ID == excludeID {
			continue
		}
		if domain.Overlaps(from, to, e.StartTime, e.EndTime) {
			snap.Entries = append(snap.Entries, cloneEntry(e))
		}
	}
	sortEntries(snap.Entries)
	return snap, nil
}

func (s *ScheduleStore) bump(accountID string, expected int64) error {
	if expected != repository.AnyAccountVersion && s.versions[accountID] != expected {
		return &domain.ConcurrencyConflict{Entity: "account", ID: accountID, ExpectedVersion: expected}
	}
	s.versions[accountID]++
	return nil
}

func (s *ScheduleStore) Create(_ context.Context, e *domain.ScheduleEntry, accountVersion int64) (*domain.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bump(e.AccountID, accountVersion); err != nil {
		return nil, err
	}
	c := cloneEntry(e)
	c.ID = uuid.NewString()
	s.entries[c.ID] = c
	return cloneEntry(c), nil
}

func (s *ScheduleStore) GetByID(_ context.Context, id, accountID string) (*domain.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.AccountID != accountID {
		return nil, domain.ErrScheduleNotFound
	}
	return cloneEntry(e), nil
}

func (s *ScheduleStore) List(_ context.Context, input repository.ListSchedulesInput) ([]*domain.ScheduleEntry, error) {
	s.mu.Lock()
	var out []*domain.ScheduleEntry
	for _, e := range s.entries {
		if e.AccountID != input.AccountID || (input.ActiveOnly && !e.Active) {
			continue
		}
		if input.CursorTime != nil && !after(e.StartTime, e.ID, *input.CursorTime, input.CursorID) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	s.mu.Unlock()

	sortEntries(out)
	return limit(out, input.Limit), nil
}

func (s *ScheduleStore) Update(_ context.Context, e *domain.ScheduleEntry, expectedVersion, accountVersion int64, audit *domain.ResolutionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[e.ID]
	if !ok || stored.AccountID != e.AccountID {
		return domain.ErrScheduleNotFound
	}
	if stored.Version != expectedVersion {
		return &domain.ConcurrencyConflict{Entity: "schedule", ID: e.ID, ExpectedVersion: expectedVersion}
	}
	if err := s.bump(e.AccountID, accountVersion); err != nil {
		return err
	}
	s.entries[e.ID] = cloneEntry(e)
	if audit != nil {
		audit.ID = uuid.NewString()
		a := *audit
		a.Changes = slices.Clone(audit.Changes)
		s.audits = append(s.audits, &a)
	}
	return nil
}

func (s *ScheduleStore) ListAudits(_ context.Context, scheduleID, accountID string) ([]*domain.ResolutionAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ResolutionAudit
	for i := len(s.audits) - 1; i >= 0; i-- {
		a := s.audits[i]
		if a.ScheduleID == scheduleID && a.AccountID == accountID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func sortEntries(entries []*domain.ScheduleEntry) {
	slices.SortFunc(entries, func(a, b *domain.ScheduleEntry) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// after reports whether (at, id) sorts strictly after the cursor in
// ascending order.
func after(at time.Time, id string, cursorAt time.Time, cursorID string) bool {
	if !at.Equal(cursorAt) {
		return at.After(cursorAt)
	}
	return id > cursorID
}
