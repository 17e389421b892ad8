package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUsername  = errors.New("username must be 1-50 characters: letters, digits, '_', '-', '.', '@'")
	ErrInvalidBudget    = errors.New("exam duration must be a positive number of seconds")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrPayloadTooLarge  = errors.New("event payload exceeds 16KB limit")
)
