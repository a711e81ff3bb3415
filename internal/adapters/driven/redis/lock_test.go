package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNewLock(t *testing.T) {
	_, client := setupTestRedis(t)

	lock := NewLock(client)
	require.NotNil(t, lock)
	assert.NotEmpty(t, lock.OwnerID())
	assert.Equal(t, DefaultLockPrefix, lock.prefix)

	custom := NewLock(client, WithPrefix("test:"), WithOwnerID("worker-1"))
	assert.Equal(t, "test:", custom.prefix)
	assert.Equal(t, "worker-1", custom.OwnerID())
}

func TestLock_OwnerID_Unique(t *testing.T) {
	_, client := setupTestRedis(t)

	assert.NotEqual(t, NewLock(client).OwnerID(), NewLock(client).OwnerID())
}

func TestLock_Acquire(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	acquired, err := lock1.Acquire(ctx, "upload:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	value, err := mr.Get(DefaultLockPrefix + "upload:abc")
	require.NoError(t, err)
	assert.Equal(t, lock1.OwnerID(), value)

	acquired, err = lock2.Acquire(ctx, "upload:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "second instance must not acquire a held lock")

	acquired, err = lock1.Acquire(ctx, "upload:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "locks are not reentrant")

	acquired, err = lock2.Acquire(ctx, "upload:def", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "different names are independent")
}

func TestLock_Acquire_AfterExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	_, err := lock1.Acquire(ctx, "scheduler", 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	acquired, err := lock2.Acquire(ctx, "scheduler", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLock_Release(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	owner := NewLock(client)
	other := NewLock(client)

	_, err := owner.Acquire(ctx, "scheduler", time.Minute)
	require.NoError(t, err)

	require.NoError(t, other.Release(ctx, "scheduler"))
	assert.True(t, mr.Exists(DefaultLockPrefix+"scheduler"), "other owners cannot release")

	require.NoError(t, owner.Release(ctx, "scheduler"))
	assert.False(t, mr.Exists(DefaultLockPrefix+"scheduler"))

	require.NoError(t, owner.Release(ctx, "scheduler"), "releasing a free lock is not an error")
}

func TestLock_Extend(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	owner := NewLock(client)
	other := NewLock(client)

	_, err := owner.Acquire(ctx, "scheduler", 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, owner.Extend(ctx, "scheduler", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL(DefaultLockPrefix+"scheduler"))

	assert.Error(t, other.Extend(ctx, "scheduler", time.Minute))
	assert.Error(t, owner.Extend(ctx, "missing", time.Minute))
}

func TestLock_Ping(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewLock(client)

	assert.NoError(t, lock.Ping(context.Background()))

	mr.Close()
	assert.Error(t, lock.Ping(context.Background()))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
