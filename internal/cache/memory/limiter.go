// Package memory holds in-process stand-ins for the redis adapters, used
// when no redis is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

var _ domain.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a per-key token bucket. A key's bucket refills limit tokens
// per window and holds at most limit.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow takes one token from key's bucket. limit <= 0 always allows.
func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	return l.bucket(key, limit, window).Allow(), nil
}

func (l *RateLimiter) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	// Changing limit or window for a key starts a fresh bucket.
	k := fmt.Sprintf("%s|%d|%s", key, limit, window)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[k]
	if !ok {
		b = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.buckets[k] = b
	}
	return b
}
