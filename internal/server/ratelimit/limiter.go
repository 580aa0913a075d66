// Package ratelimit throttles credential-guessing endpoints with a fixed
// window per key. MemoryLimiter serves a single instance; RedisLimiter
// shares the window across instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more attempt for key is allowed at now.
// When it is not, retryAfter says how long until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

type window struct {
	count int
	reset time.Time
}

type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	period      time.Duration
	windows     map[string]*window
	lastCleanup time.Time
}

func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.period {
		for k, w := range l.windows {
			if !now.Before(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		l.windows[key] = &window{count: 1, reset: now.Add(l.period)}
		return true, 0, nil
	}

	if w.count >= l.limit {
		return false, w.reset.Sub(now), nil
	}
	w.count++
	return true, 0, nil
}
