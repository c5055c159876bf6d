package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Minute)
	b := NewDistributedLock(client, "k", "b", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// b 不是持有者，Unlock 不应删除 a 的锁
	require.NoError(t, b.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_Expires(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "a", time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = NewDistributedLock(client, "k", "b", time.Second).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_LockGivesUp(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "a", time.Minute)
	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))

	err := NewDistributedLock(client, "k", "b", time.Minute).Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestOrderLocker_AcquireRelease(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	locker := NewOrderLocker(client, time.Minute).WithRetry(time.Millisecond, 2)

	release, err := locker.Acquire(ctx, "ORD20261018001", "p1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(OrderLockKey("ORD20261018001")))

	_, err = locker.Acquire(ctx, "ORD20261018001", "p2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockFailed)

	// 不同订单互不影响
	releaseOther, err := locker.Acquire(ctx, "ORD20261018002", "p3")
	require.NoError(t, err)
	releaseOther()

	release()
	release()
	assert.False(t, mr.Exists(OrderLockKey("ORD20261018001")))
}
