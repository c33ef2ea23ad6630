package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if it still holds the caller's token, so
// one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL of a lock key only while it still holds the
// caller's token. It returns 0 once the lock has been lost.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SET NX with a TTL
// and token-checked Lua scripts for unlock and refresh.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
	logger    *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:       c.Driver(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		logger:    logger.With(slog.String("component", "redis_lock")),
	}
}

func lockKey(key string) string {
	return "snipebot:lock:" + key
}

// Acquire obtains the lock for key with the given TTL. The returned unlock
// function is safe to call more than once. It returns domain.ErrLockHeld if
// another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { lm.release(key, token) }) }, nil
}

// Lease obtains the lock for key and keeps it alive by refreshing the TTL at
// a third of its length until release is called or ctx ends. If a refresh
// finds the lock taken over, the lease logs and stops refreshing.
func (lm *LockManager) Lease(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, err
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		lm.keepAlive(leaseCtx, key, token, ttl)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			<-done
			lm.release(key, token)
		})
	}
	return release, nil
}

func (lm *LockManager) take(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := lm.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return token, nil
}

func (lm *LockManager) keepAlive(ctx context.Context, key, token string, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				lm.logger.WarnContext(ctx, "lease refresh failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n == 0 {
				lm.logger.ErrorContext(ctx, "lease lost", slog.String("key", key))
				return
			}
		}
	}
}

// release runs on a fresh context so it succeeds after the caller's context
// is cancelled.
func (lm *LockManager) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.unlockSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Err(); err != nil {
		lm.logger.Warn("lock release failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
