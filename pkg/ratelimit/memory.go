package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per key in process memory. It suits
// single-replica deployments and tests.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*bucket
	nowFn    func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	limit    rate.Limit
	burst    int
	lastSeen time.Time
}

// NewMemoryLimiter returns an empty limiter. A nil clock means time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{limiters: make(map[string]*bucket), nowFn: now}
}

// Allow spends one token. maxAttempts tokens refill evenly over window.
func (limiter *MemoryLimiter) Allow(_ context.Context, key string, maxAttempts int, window time.Duration) (Decision, error) {
	if err := validateLimit(key, maxAttempts, window); err != nil {
		return Decision{}, err
	}
	now := limiter.nowFn()
	entry := limiter.bucketFor(key, maxAttempts, window, now)

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, RetryAfter: window}, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// Cleanup drops buckets idle for longer than idle and returns how many were removed.
func (limiter *MemoryLimiter) Cleanup(idle time.Duration) int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	cutoff := limiter.nowFn().Add(-idle)
	removed := 0
	for key, entry := range limiter.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(limiter.limiters, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (limiter *MemoryLimiter) Size() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return len(limiter.limiters)
}

func (limiter *MemoryLimiter) bucketFor(key string, maxAttempts int, window time.Duration, now time.Time) *bucket {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limit := rate.Every(window / time.Duration(maxAttempts))
	entry, exists := limiter.limiters[key]
	if !exists || entry.limit != limit || entry.burst != maxAttempts {
		entry = &bucket{limiter: rate.NewLimiter(limit, maxAttempts), limit: limit, burst: maxAttempts}
		limiter.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry
}
