package draw

import "errors"

var (
	// ErrPoolUnavailable reports a pool that is unknown, empty, or has no weight.
	ErrPoolUnavailable = errors.New("pool unavailable")
	// ErrInvalidPool reports a pool definition that can never be loaded.
	ErrInvalidPool = errors.New("invalid pool")
)
