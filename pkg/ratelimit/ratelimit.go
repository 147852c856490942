// Package ratelimit throttles requests per key before they reach the ledger.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidLimit reports a non-positive attempt count or window.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts attempts per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, maxAttempts int, window time.Duration) (Decision, error)
}

func validateLimit(key string, maxAttempts int, window time.Duration) error {
	if key == "" || maxAttempts <= 0 || window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}
