package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("clinic lock not acquired")
)

// Locker serializes queue mutations per clinic. Every operation that touches a
// clinic's queue together with appointment rows runs inside WithClinicLock so
// two concurrent callers cannot interleave read-modify-write on the same queue.
type Locker interface {
	WithClinicLock(ctx context.Context, clinicID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisClinicLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClinicLocker creates a locker that uses a per clinic Redis key
func NewRedisClinicLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisClinicLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisClinicLocker) WithClinicLock(ctx context.Context, clinicID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:clinic:%s", clinicID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire clinic lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisClinicLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release clinic lock: %w", err)
	}
	return nil
}
