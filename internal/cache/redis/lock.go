package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/marginbot/internal/domain"
)

// Conditional delete: the lock key is removed only when it still carries the
// caller's token, so an expired holder can never release its successor's
// lock.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager on SET NX with a TTL. The sweep
// uses it to elect one leader per interval; losing the race is the normal
// case for every other instance.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockScript),
	}
}

// Acquire takes the lock for key with the given TTL. On success the returned
// release function must be called; it is safe to call more than once. A lock
// already held by another party returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be cancelled during shutdown;
		// release on a fresh one so the lock does not linger a full TTL.
		rctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_ = lm.unlock.Run(rctx, lm.rdb, []string{lk}, token).Err()
	}
	return release, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
