package interfaces

import "proctor/pkg/types"

// EventPublisher delivers live events to dashboard subscribers
// ARCHITECTURAL DISCOVERY: Producers (session controller, archiver, API)
// depend on this narrow interface instead of the hub implementation
type EventPublisher interface {
	// Publish queues an event for delivery. It must not block the caller
	// for longer than a channel send.
	Publish(event types.Event) error
}
