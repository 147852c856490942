package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisKeyPrefix = "fanpoints:ratelimit:"

// RedisLimiter is a fixed-window counter shared by every replica: INCR on a
// key named after the window start, with the key expiring after the window.
type RedisLimiter struct {
	client    redis.Cmdable
	keyPrefix string
	nowFn     func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix namespaces the counters.
func WithKeyPrefix(prefix string) RedisOption {
	return func(limiter *RedisLimiter) {
		limiter.keyPrefix = prefix
	}
}

// WithRedisClock replaces time.Now.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(limiter *RedisLimiter) {
		if now != nil {
			limiter.nowFn = now
		}
	}
}

// NewRedisLimiter returns a limiter backed by client.
func NewRedisLimiter(client redis.Cmdable, options ...RedisOption) *RedisLimiter {
	limiter := &RedisLimiter{client: client, keyPrefix: defaultRedisKeyPrefix, nowFn: time.Now}
	for _, option := range options {
		option(limiter)
	}
	return limiter
}

// Allow increments the counter of the current window.
func (limiter *RedisLimiter) Allow(ctx context.Context, key string, maxAttempts int, window time.Duration) (Decision, error) {
	if err := validateLimit(key, maxAttempts, window); err != nil {
		return Decision{}, err
	}
	now := limiter.nowFn()
	windowStart := now.Truncate(window)
	counterKey := limiter.counterKey(key, windowStart)

	count, err := limiter.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr %s: %w", counterKey, err)
	}
	if count == 1 {
		if err := limiter.client.Expire(ctx, counterKey, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire %s: %w", counterKey, err)
		}
	}
	if count > int64(maxAttempts) {
		return Decision{Allowed: false, RetryAfter: windowStart.Add(window).Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}

func (limiter *RedisLimiter) counterKey(key string, windowStart time.Time) string {
	return limiter.keyPrefix + key + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}
