package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSyncInProgress means another run already holds the lock for this
// (user, PMS) pair.
var ErrSyncInProgress = errors.New("sync already in progress")

// releaseScript deletes the lock only when the stored token matches,
// so a run that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// Locker serializes sync runs per (user, PMS) with a Redis TTL lock.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

func lockKey(userID, pmsType string) string {
	return fmt.Sprintf("sync:lock:%s:%s", userID, pmsType)
}

// Acquire takes the lock for (user, pms) or returns ErrSyncInProgress.
// The returned release func is safe to call once the run finishes,
// however it finished.
func (l *Locker) Acquire(ctx context.Context, userID, pmsType string) (release func(context.Context) error, err error) {
	token := uuid.NewString()
	key := lockKey(userID, pmsType)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("sync: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("sync: release lock: %w", err)
		}
		return nil
	}, nil
}
