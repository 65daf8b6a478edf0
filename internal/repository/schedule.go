package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// AnyAccountVersion skips the account version comparison on Update. The
// account version is still bumped.
const AnyAccountVersion int64 = -1

type ListSchedulesInput struct {
	AccountID  string
	ActiveOnly bool
	CursorTime *time.Time // cursor on (start_time ASC, id ASC)
	CursorID   string
	Limit      int
}

// Snapshot is a consistent read of an account's busy time. AccountVersion
// changes whenever any entry of the account is created or modified, so a
// decision made on the snapshot can be committed only if nothing moved.
type Snapshot struct {
	Entries        []*domain.ScheduleEntry
	AccountVersion int64
}

type ScheduleRepository interface {
	// Snapshot returns the account's active entries that intersect [from, to),
	// excluding excludeID when it is non-empty.
	Snapshot(ctx context.Context, accountID string, from, to time.Time, excludeID string) (Snapshot, error)

	// Create inserts e if the account version still equals accountVersion.
	Create(ctx context.Context, e *domain.ScheduleEntry, accountVersion int64) (*domain.ScheduleEntry, error)

	GetByID(ctx context.Context, id, accountID string) (*domain.ScheduleEntry, error)
	List(ctx context.Context, input ListSchedulesInput) ([]*domain.ScheduleEntry, error)

	// Update writes e and, when non-nil, audit in one transaction. The stored
	// entry version must equal expectedVersion and the account version must
	// equal accountVersion (unless AnyAccountVersion).
	Update(ctx context.Context, e *domain.ScheduleEntry, expectedVersion, accountVersion int64, audit *domain.ResolutionAudit) error

	// ListAudits returns the resolution history of one entry, newest first.
	ListAudits(ctx context.Context, scheduleID, accountID string) ([]*domain.ResolutionAudit, error)
}
