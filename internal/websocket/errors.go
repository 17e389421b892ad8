package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrMissingID     = errors.New("connection must have a subscriber ID before registration")
)

// Handler-related errors
var (
	ErrInvalidWatch = errors.New("watch must be a valid username or '*'")
)
