package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token, so
// a lease that expired and was re-acquired by another owner is never
// released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Lock is a held distributed lock.
type Lock struct {
	store *Store
	key   string
	token string
}

// ErrLockNotAcquired is returned when the lock stayed held by another owner
// for the whole block timeout.
var ErrLockNotAcquired = fmt.Errorf("lock not acquired")

// AcquireLock takes the named lock with SET NX and a random token, polling
// until blockTimeout elapses. ttl bounds how long a crashed owner can hold
// the lock.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl, blockTimeout time.Duration) (*Lock, error) {
	key := "lock:" + name
	token := uuid.NewString()
	deadline := time.Now().Add(blockTimeout)

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			return &Lock{store: s, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", name, ErrLockNotAcquired)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release frees the lock if we still own it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.store.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", l.key, err)
	}
	return nil
}
