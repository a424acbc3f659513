package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Minute)
	ctx := context.Background()
	key := EmailSyncKey("user-1")

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, EmailSyncKey("user-2"))
	require.NoError(t, err, "locks are per user")
	other()

	release()
	release()
	assert.False(t, mr.Exists(key))

	release, err = l.Acquire(ctx, key)
	require.NoError(t, err)
	release()
}

func TestRedisLockerExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, RefreshKey())
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	fresh, err := l.Acquire(ctx, RefreshKey())
	require.NoError(t, err, "an expired lock must be acquirable")

	// The stale holder must not drop the new holder's lock.
	stale()
	assert.True(t, mr.Exists(RefreshKey()))
	fresh()
	assert.False(t, mr.Exists(RefreshKey()))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = Connect(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, RefreshKey())
	require.NoError(t, err)

	_, err = l.Acquire(ctx, RefreshKey())
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release, err = l.Acquire(ctx, RefreshKey())
	require.NoError(t, err)
	release()
}
