package interfaces

import (
	"context"

	"proctor/pkg/types"
)

// SessionStore persists exam sessions, clip metadata and audit events
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type SessionStore interface {
	// RecordSessionStart persists a newly started session
	RecordSessionStart(ctx context.Context, session *types.Session) error

	// RecordSessionEnd stores end_time, status and end_reason for a session
	// FUNCTIONAL DISCOVERY: Only the mutable fields are written so a late
	// update can never rewrite the start record
	RecordSessionEnd(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// ListSessions returns the most recent sessions of a user, newest first
	ListSessions(ctx context.Context, username string, limit int) ([]*types.Session, error)

	// RecordClip stores metadata for a clip written to disk
	RecordClip(ctx context.Context, clip *types.ClipRecord) error

	// ListClips returns clip metadata, optionally filtered by username
	ListClips(ctx context.Context, username string) ([]*types.ClipRecord, error)

	// DeleteClip removes the metadata row for a clip file
	// TECHNICAL DISCOVERY: Missing rows are not an error because clips may
	// predate the database or have been written while it was unavailable
	DeleteClip(ctx context.Context, filename string) error

	// RecordEvent appends an audit event
	RecordEvent(ctx context.Context, event *types.Event) error

	// ListEvents returns the latest events of a user, oldest first
	ListEvents(ctx context.Context, username string, limit int) ([]*types.Event, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
