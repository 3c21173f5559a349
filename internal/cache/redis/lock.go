package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry out only while the caller still holds the
// lock. Returns 0 when the key expired or belongs to someone else.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// Lua-based conditional unlock and extension. The engine manager takes one
// lock per user so two processes never trade the same account; long-running
// holders keep the lease alive by extending it well inside the TTL.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns a lease whose Release must be called
// to drop the lock; Release is safe to call multiple times.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.LockLease, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return &lease{lm: lm, key: lk, token: token}, nil
}

// lease is one holder's claim on a lock key, identified by its token.
type lease struct {
	lm    *LockManager
	key   string
	token string

	mu       sync.Mutex
	released bool
}

// Extend pushes the lock's expiry out to ttl from now. It returns
// domain.ErrLockHeld when the key has expired or was taken over by another
// holder; the caller no longer owns the lock and must stop relying on it.
func (l *lease) Extend(ctx context.Context, ttl time.Duration) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return fmt.Errorf("redis: extend released lock %s: %w", l.key, domain.ErrLockHeld)
	}

	res, err := l.lm.extendSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", l.key, err)
	}
	if res == 0 {
		return fmt.Errorf("redis: lock %s lost: %w", l.key, domain.ErrLockHeld)
	}
	return nil
}

// Release drops the lock if this lease still owns it.
func (l *lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	// Use a background context so release succeeds even if the caller's
	// context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
}

// Compile-time interface checks.
var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.LockLease   = (*lease)(nil)
)
