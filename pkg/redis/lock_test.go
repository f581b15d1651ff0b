package redis

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("REDIS_PORT"))
	if port == 0 {
		port = 6379
	}

	zapLogger, _ := zap.NewDevelopment()
	client, err := NewClient(Config{Host: host, Port: port}, zapadapter.NewZapEctoLogger(zapLogger, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker_Exclusive(t *testing.T) {
	client := getTestClient(t)
	locker := NewLocker(client, "fern-test:")
	ctx := context.Background()
	key := uuid.NewString()

	lock, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	again, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_WithLockOutlivesTTL(t *testing.T) {
	client := getTestClient(t)
	locker := NewLocker(client, "fern-test:")
	ctx := context.Background()
	key := uuid.NewString()

	err := locker.WithLock(ctx, key, 200*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		_, err := locker.Acquire(ctx, key, time.Second)
		return err
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// Released once fn returns
	lock, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestLocker_WithLockReturnsFnError(t *testing.T) {
	client := getTestClient(t)
	locker := NewLocker(client, "")
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), uuid.NewString(), time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
