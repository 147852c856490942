package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (clock *fakeClock) Now() time.Time { return clock.now }

func (clock *fakeClock) Advance(step time.Duration) { clock.now = clock.now.Add(step) }

func TestMemoryLimiterBlocksAfterBurst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(clock.Now)
	ctx := context.Background()

	for attempt := 0; attempt < 3; attempt++ {
		decision, err := limiter.Allow(ctx, "draw:user-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "attempt %d", attempt)
	}
	decision, err := limiter.Allow(ctx, "draw:user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 20*time.Second, decision.RetryAfter)

	other, err := limiter.Allow(ctx, "draw:user-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys must not share buckets")

	clock.Advance(20 * time.Second)
	decision, err = limiter.Allow(ctx, "draw:user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "one token refills after window/maxAttempts")
}

func TestMemoryLimiterCleanupDropsIdleKeys(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(clock.Now)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = limiter.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, limiter.Cleanup(5*time.Minute))
	assert.Equal(t, 1, limiter.Size())
}

func TestMemoryLimiterRejectsInvalidLimits(t *testing.T) {
	limiter := NewMemoryLimiter(nil)
	_, err := limiter.Allow(context.Background(), "key", 0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = limiter.Allow(context.Background(), "", 1, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
