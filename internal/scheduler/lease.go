package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/google/uuid"
)

// LeaseTable is an in-process lease store for single-instance deployments
// and tests. Replicated dispatchers need the postgres or redis store.
type LeaseTable struct {
	mu     sync.Mutex
	leases map[string]domain.Lease
	now    func() time.Time
}

func NewLeaseTable() *LeaseTable {
	return &LeaseTable{leases: make(map[string]domain.Lease), now: time.Now}
}

func (l *LeaseTable) Acquire(_ context.Context, taskID, owner string, ttl time.Duration) (domain.Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[taskID]; ok && !held.Expired(now) {
		return domain.Lease{}, false, nil
	}
	lease := domain.Lease{
		TaskID:    taskID,
		Owner:     owner,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}
	l.leases[taskID] = lease
	return lease, true, nil
}

func (l *LeaseTable) Release(_ context.Context, lease domain.Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.leases[lease.TaskID]; ok && held.Token == lease.Token {
		delete(l.leases, lease.TaskID)
	}
	return nil
}

func (l *LeaseTable) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, lease := range l.leases {
		if lease.Expired(now) {
			delete(l.leases, id)
			n++
		}
	}
	return n, nil
}

// Held reports whether taskID has an unexpired lease.
func (l *LeaseTable) Held(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok := l.leases[taskID]
	return ok && !lease.Expired(l.now())
}
