package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseRepository keeps task leases in task_leases. A lease row is taken over
// only once it has expired, so two dispatchers never both hold one.
type LeaseRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ repository.LeaseStore = (*LeaseRepository)(nil)

func NewLeaseRepository(pool *pgxpool.Pool) *LeaseRepository {
	return &LeaseRepository{pool: pool, now: time.Now}
}

func (r *LeaseRepository) Acquire(ctx context.Context, taskID, owner string, ttl time.Duration) (domain.Lease, bool, error) {
	now := r.now().UTC()
	lease := domain.Lease{
		TaskID:    taskID,
		Owner:     owner,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}

	var token string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO task_leases (task_id, owner, token, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE
		SET owner      = EXCLUDED.owner,
		    token      = EXCLUDED.token,
		    expires_at = EXCLUDED.expires_at
		WHERE task_leases.expires_at <= $5
		RETURNING token`,
		lease.TaskID, lease.Owner, lease.Token, lease.ExpiresAt, now,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		// Held by someone else and not yet expired.
		return domain.Lease{}, false, nil
	}
	if err != nil {
		return domain.Lease{}, false, fmt.Errorf("acquire lease: %w", err)
	}
	return lease, true, nil
}

func (r *LeaseRepository) Release(ctx context.Context, lease domain.Lease) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM task_leases WHERE task_id = $1 AND token = $2`, lease.TaskID, lease.Token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (r *LeaseRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM task_leases WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
