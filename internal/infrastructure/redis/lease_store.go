package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = goredis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// LeaseStore keeps one key per leased task. Redis expires the keys itself,
// so PurgeExpired has nothing to do.
type LeaseStore struct {
	client *goredis.Client
	now    func() time.Time
}

func NewLeaseStore(client *goredis.Client) *LeaseStore {
	return &LeaseStore{client: client, now: time.Now}
}

func leaseKey(taskID string) string {
	return keyPrefix + "lease:" + taskID
}

func (s *LeaseStore) Acquire(ctx context.Context, taskID, owner string, ttl time.Duration) (domain.Lease, bool, error) {
	token := owner + ":" + uuid.NewString()
	ok, err := s.client.SetNX(ctx, leaseKey(taskID), token, ttl).Result()
	if err != nil {
		return domain.Lease{}, false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return domain.Lease{}, false, nil
	}
	return domain.Lease{
		TaskID:    taskID,
		Owner:     owner,
		Token:     token,
		ExpiresAt: s.now().Add(ttl),
	}, true, nil
}

func (s *LeaseStore) Release(ctx context.Context, lease domain.Lease) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKey(lease.TaskID)}, lease.Token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *LeaseStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
