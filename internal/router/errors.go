package router

import "errors"

// Router-specific error types
var (
	ErrNilEvent          = errors.New("event cannot be nil")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
