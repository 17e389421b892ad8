package session

import "errors"

// Session controller error types
var (
	ErrSessionNotActive = errors.New("no proctoring session is active")
	ErrUserMismatch     = errors.New("active session belongs to another user")
	ErrInvalidUsername  = errors.New("username is required and must be 1-50 characters: letters, digits, '_', '-', '.', '@'")
	ErrStopTimeout      = errors.New("session did not shut down in time")
)
