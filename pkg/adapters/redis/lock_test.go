package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Exclusive(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "cocoon:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "source:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("cocoon:lock:source:a"))

	waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "source:a", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("cocoon:lock:source:a"))

	unlock, err = locker.Lock(ctx, "source:a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocker_UnlockKeepsForeignLock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "cocoon:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	// the lock expires and another owner takes it
	mr.FastForward(2 * time.Second)
	other, err := locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("cocoon:lock:k"), "stale unlock must not release the new owner's lock")
	require.NoError(t, other(ctx))
}
