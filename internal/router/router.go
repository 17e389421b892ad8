package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"proctor/internal/websocket"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Router persists proctoring events and delivers them to dashboards
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection handling
// maintains clean separation between routing decisions and delivery mechanisms
type Router struct {
	registry *websocket.Registry
	store    interfaces.SessionStore
	now      func() time.Time
}

// NewRouter creates a new event router. store may be nil, in which case
// events are delivered but not kept.
func NewRouter(registry *websocket.Registry, store interfaces.SessionStore) *Router {
	return &Router{
		registry: registry,
		store:    store,
		now:      time.Now,
	}
}

// RouteEvent stores an event and delivers it to every dashboard following
// its username
// FUNCTIONAL DISCOVERY: Persist-then-route keeps the audit trail ahead of
// what dashboards have seen; a storage failure still delivers the event
func (r *Router) RouteEvent(ctx context.Context, event *types.Event) error {
	if event == nil {
		return ErrNilEvent
	}
	// ARCHITECTURAL DISCOVERY: Server controls event IDs and timestamps
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if err := event.Validate(); err != nil {
		return err
	}

	var persistErr error
	if r.store != nil {
		if err := r.store.RecordEvent(ctx, event); err != nil {
			persistErr = fmt.Errorf("failed to persist event: %w", err)
		}
	}

	// FUNCTIONAL DISCOVERY: Continue delivery to other dashboards even if one fails
	for _, conn := range r.registry.Subscribers(event.Username) {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Failed to deliver event to %s: %v", conn.GetID(), err)
		}
	}

	return persistErr
}
