package interfaces

// Connection represents a dashboard WebSocket subscriber
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and event fan-out
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe)
	// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
	// to ensure all implementations use single-writer pattern to prevent races
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetID returns the unique subscriber ID assigned at upgrade time
	GetID() string

	// GetWatch returns the username this subscriber follows, or "*" for all
	GetWatch() string
}
