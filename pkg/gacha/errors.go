package gacha

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotCircleMember      = errors.New("not a circle member")
	ErrRateLimited          = errors.New("rate limited")
	ErrInvalidReason        = errors.New("reason cannot be earned here")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidServiceConfig = errors.New("invalid gacha service config")
	// ErrPoolUnavailable is returned for unknown, empty, or zero-weight pools.
	ErrPoolUnavailable = draw.ErrPoolUnavailable
)

// RateLimitedError reports which operation was throttled and when to retry.
type RateLimitedError struct {
	Operation  string
	RetryAfter time.Duration
}

func (rateLimited *RateLimitedError) Error() string {
	return fmt.Sprintf("%v: %s, retry after %s", ErrRateLimited, rateLimited.Operation, rateLimited.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (rateLimited *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
