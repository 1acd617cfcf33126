package sync

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerSerializesPerPMS(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "user-1", "cliniko")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "user-1", "cliniko")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	// A different PMS for the same user is an independent lock.
	releaseNookal, err := locker.Acquire(ctx, "user-1", "nookal")
	require.NoError(t, err)
	require.NoError(t, releaseNookal(ctx))

	require.NoError(t, release(ctx))

	release2, err := locker.Acquire(ctx, "user-1", "cliniko")
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestLockerReleaseIgnoresExpiredLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "user-1", "halaxy")
	require.NoError(t, err)

	// Simulate TTL expiry and a successor taking the lock.
	mr.FastForward(2 * time.Minute)
	successorRelease, err := locker.Acquire(ctx, "user-1", "halaxy")
	require.NoError(t, err)

	// The stale release must not free the successor's lock.
	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "user-1", "halaxy")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	require.NoError(t, successorRelease(ctx))
}
