package websocket

import (
	"sync"
)

// Registry manages dashboard connections with thread-safe operations
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and event delivery
type Registry struct {
	mu          sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection            // subscriberID -> Connection
	watchers    map[string]map[string]*Connection // watch -> subscriberID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		watchers:    make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a connection to both maps atomically
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	id := conn.GetID()
	if id == "" {
		return ErrMissingID
	}
	watch := conn.GetWatch()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[id] = conn
	if r.watchers[watch] == nil {
		r.watchers[watch] = make(map[string]*Connection)
	}
	r.watchers[watch][id] = conn
	return nil
}

// UnregisterConnection removes a specific connection from all maps atomically
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}
	id := conn.GetID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[id]
	if !exists || registered != conn {
		return
	}
	delete(r.connections, id)

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	watch := conn.GetWatch()
	if group, exists := r.watchers[watch]; exists {
		delete(group, id)
		if len(group) == 0 {
			delete(r.watchers, watch)
		}
	}
}

// GetConnection returns a subscriber by ID
func (r *Registry) GetConnection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	return conn, exists
}

// Subscribers returns every connection that follows username, including
// dashboards watching all examinees
func (r *Registry) Subscribers(username string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.watchers[username] {
		connections = append(connections, conn)
	}
	if username != WatchAll {
		for _, conn := range r.watchers[WatchAll] {
			connections = append(connections, conn)
		}
	}
	return connections
}

// GetStats returns registry statistics for the health endpoint
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"watched_users":     len(r.watchers),
	}
}
