package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// LeaseStore is the lease table keyed by task id. Implementations must make
// Acquire atomic: of two concurrent callers for the same task, at most one
// gets ok=true until the lease is released or expires.
type LeaseStore interface {
	Acquire(ctx context.Context, taskID, owner string, ttl time.Duration) (lease domain.Lease, ok bool, err error)

	// Release drops the lease only if it is still held with the same token.
	Release(ctx context.Context, lease domain.Lease) error

	// PurgeExpired removes leases whose expiry is before now and reports how
	// many were removed. Stores with native expiry may return 0.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
