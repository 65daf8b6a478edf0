package conflict

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memSchedules is a ScheduleRepository backed by a map, with one version
// counter per account.
type memSchedules struct {
	mu       sync.Mutex
	entries  map[string]*domain.ScheduleEntry
	versions map[string]int64
	audits   []*domain.ResolutionAudit
	seq      int

	// afterSnapshot runs once a snapshot was taken, outside the lock.
	afterSnapshot func()
}

func newMemSchedules() *memSchedules {
	return &memSchedules{entries: map[string]*domain.ScheduleEntry{}, versions: map[string]int64{}}
}

func cloneEntry(e *domain.ScheduleEntry) *domain.ScheduleEntry {
	c := *e
	c.Attendees = slices.Clone(e.Attendees)
	c.ConflictingSchedules = slices.Clone(e.ConflictingSchedules)
	return &c
}

// seed stores e directly and bumps the account version.
func (m *memSchedules) seed(accountID, title string, start, end time.Time) *domain.ScheduleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := &domain.ScheduleEntry{
		ID:        fmt.Sprintf("sched-%d", m.seq),
		AccountID: accountID,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Duration:  domain.DurationMinutes(start, end),
		Active:    true,
		Version:   1,
	}
	m.entries[e.ID] = e
	m.versions[accountID]++
	return cloneEntry(e)
}

func (m *memSchedules) Snapshot(_ context.Context, accountID string, from, to time.Time, excludeID string) (repository.Snapshot, error) {
	m.mu.Lock()
	snap := repository.Snapshot{AccountVersion: m.versions[accountID]}
	for _, e := range m.entries {
		if e.AccountID != accountID || !e.Active || e.ID == excludeID {
			continue
		}
		if domain.Overlaps(from, to, e.StartTime, e.EndTime) {
			snap.Entries = append(snap.Entries, cloneEntry(e))
		}
	}
	m.mu.Unlock()
	if m.afterSnapshot != nil {
		m.afterSnapshot()
	}
	return snap, nil
}

func (m *memSchedules) Create(_ context.Context, e *domain.ScheduleEntry, accountVersion int64) (*domain.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accountVersion != repository.AnyAccountVersion && m.versions[e.AccountID] != accountVersion {
		return nil, &domain.ConcurrencyConflict{Entity: "account", ID: e.AccountID, ExpectedVersion: accountVersion}
	}
	m.seq++
	e.ID = fmt.Sprintf("sched-%d", m.seq)
	m.entries[e.ID] = cloneEntry(e)
	m.versions[e.AccountID]++
	return cloneEntry(e), nil
}

func (m *memSchedules) GetByID(_ context.Context, id, accountID string) (*domain.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.AccountID != accountID {
		return nil, domain.ErrScheduleNotFound
	}
	return cloneEntry(e), nil
}

func (m *memSchedules) List(context.Context, repository.ListSchedulesInput) ([]*domain.ScheduleEntry, error) {
	return nil, nil
}

func (m *memSchedules) Update(_ context.Context, e *domain.ScheduleEntry, expectedVersion, accountVersion int64, audit *domain.ResolutionAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[e.ID]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	if stored.Version != expectedVersion {
		return &domain.ConcurrencyConflict{Entity: "schedule", ID: e.ID, ExpectedVersion: expectedVersion}
	}
	if accountVersion != repository.AnyAccountVersion && m.versions[e.AccountID] != accountVersion {
		return &domain.ConcurrencyConflict{Entity: "account", ID: e.AccountID, ExpectedVersion: accountVersion}
	}
	m.entries[e.ID] = cloneEntry(e)
	m.versions[e.AccountID]++
	if audit != nil {
		audit.ID = fmt.Sprintf("audit-%d", len(m.audits)+1)
		a := *audit
		m.audits = append(m.audits, &a)
	}
	return nil
}

func (m *memSchedules) ListAudits(_ context.Context, scheduleID, _ string) ([]*domain.ResolutionAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ResolutionAudit
	for i := len(m.audits) - 1; i >= 0; i-- {
		if m.audits[i].ScheduleID == scheduleID {
			out = append(out, m.audits[i])
		}
	}
	return out, nil
}

func (m *memSchedules) get(id string) *domain.ScheduleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEntry(m.entries[id])
}

// bump simulates a concurrent write to the account.
func (m *memSchedules) bump(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[accountID]++
}
