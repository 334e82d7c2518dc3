package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/occupancy"
)

func newLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, 5*time.Second, wait, zap.NewNop()), server
}

func TestLockAndRelease(t *testing.T) {
	locker, server := newLocker(t, 50*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, server.Exists(keyPrefix+"u1"))

	unlock()
	assert.False(t, server.Exists(keyPrefix+"u1"))
}

func TestLockBusy(t *testing.T) {
	locker, _ := newLocker(t, 60*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "u1")
	assert.ErrorIs(t, err, occupancy.ErrOccupantBusy)

	// 不同用户互不影响
	other, err := locker.Lock(context.Background(), "u2")
	require.NoError(t, err)
	other()
}

func TestLockWaitsForRelease(t *testing.T) {
	locker, _ := newLocker(t, time.Second)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()

	second, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	second()
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	locker, server := newLocker(t, 50*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)

	// 锁过期后被其他请求拿到
	server.FastForward(6 * time.Second)
	require.NoError(t, server.Set(keyPrefix+"u1", "someone-else"))

	unlock()
	got, err := server.Get(keyPrefix + "u1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLockRedisDown(t *testing.T) {
	locker, server := newLocker(t, 50*time.Millisecond)
	server.Close()

	_, err := locker.Lock(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, occupancy.ErrOccupantBusy)
}

func TestNopLocker(t *testing.T) {
	unlock, err := NopLocker{}.Lock(context.Background(), "u1")
	require.NoError(t, err)
	unlock()
}
