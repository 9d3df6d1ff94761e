package redisclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client
}

func TestWithClinicLockRunsCriticalSection(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisClinicLocker(client, time.Second)

	clinicID := uuid.New()
	ran := false

	err := locker.WithClinicLock(context.Background(), clinicID, func(ctx context.Context) error {
		ran = true

		// The lock key is held while the section runs.
		key := fmt.Sprintf("lock:clinic:%s", clinicID)
		val, err := client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.NotEmpty(t, val)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithClinicLockContention(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisClinicLocker(client, time.Second)

	clinicID := uuid.New()

	err := locker.WithClinicLock(context.Background(), clinicID, func(ctx context.Context) error {
		// Re-entry on the same clinic while held must be rejected.
		inner := locker.WithClinicLock(ctx, clinicID, func(ctx context.Context) error {
			t.Fatal("critical section ran under a contended lock")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithClinicLockDifferentClinicsDoNotContend(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisClinicLocker(client, time.Second)

	err := locker.WithClinicLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return locker.WithClinicLock(ctx, uuid.New(), func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithClinicLockReleasesAfterRun(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisClinicLocker(client, time.Second)

	clinicID := uuid.New()

	require.NoError(t, locker.WithClinicLock(context.Background(), clinicID, func(ctx context.Context) error {
		return nil
	}))

	// The same clinic can be locked again immediately.
	require.NoError(t, locker.WithClinicLock(context.Background(), clinicID, func(ctx context.Context) error {
		return nil
	}))
}

func TestWithClinicLockPropagatesSectionError(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisClinicLocker(client, time.Second)

	boom := errors.New("boom")
	err := locker.WithClinicLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
