package types

import (
	"encoding/json"
	"regexp"
	"time"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// IsValidUsername checks if a username meets format requirements.
// Path separators are excluded because usernames are embedded in clip filenames.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	if username == "." || username == ".." {
		return false
	}
	return usernameRegex.MatchString(username)
}

// ValidateBudget rejects zero and negative exam durations.
func ValidateBudget(budget time.Duration) error {
	if budget <= 0 {
		return ErrInvalidBudget
	}
	return nil
}

// IsValidEventType checks if the event type is one of the known kinds
func IsValidEventType(eventType string) bool {
	switch eventType {
	case EventSessionStarted,
		EventSessionStopped,
		EventSessionExpired,
		EventMajorityChanged,
		EventClipSaved,
		EventFocusLost:
		return true
	default:
		return false
	}
}

// Validate ensures the event meets all requirements
func (e *Event) Validate() error {
	if !IsValidEventType(e.Type) {
		return ErrInvalidEventType
	}
	if !IsValidUsername(e.Username) {
		return ErrInvalidUsername
	}
	// TECHNICAL DISCOVERY: Payload size check requires marshaling
	// which adds overhead but ensures accurate byte count
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	if len(payload) > 16384 {
		return ErrPayloadTooLarge
	}
	return nil
}
