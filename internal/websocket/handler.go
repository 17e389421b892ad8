package websocket

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Dashboards are served from the station itself
		// or a proctor laptop on the same LAN
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Config holds heartbeat timing for dashboard connections
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HistoryLimit int
}

// DefaultConfig returns the 30 s ping / 60 s read deadline heartbeat
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		HistoryLimit: 50,
	}
}

// Handler upgrades dashboard requests into event subscribers
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from event routing
type Handler struct {
	registry *Registry
	store    interfaces.SessionStore // recent events replayed on connect; may be nil
	config   Config
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, store interfaces.SessionStore, config Config) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		config:   config,
	}
}

// HandleWebSocket serves /ws/events?username=<user|*>
// ARCHITECTURAL DISCOVERY: Validation happens before the upgrade so invalid
// requests get a plain HTTP error instead of a dropped socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	watch := r.URL.Query().Get("username")
	if watch == "" {
		watch = WatchAll
	}
	if watch != WatchAll && !types.IsValidUsername(watch) {
		http.Error(w, ErrInvalidWatch.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, uuid.New().String(), watch, h.config.WriteTimeout)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}
	log.Printf("Dashboard connected: id=%s watch=%s", wsConn.GetID(), watch)

	go h.sendHistory(wsConn)
	go h.handleConnection(wsConn)
}

// sendHistory replays recent stored events for the watched user
func (h *Handler) sendHistory(conn *Connection) {
	if h.store != nil {
		username := conn.GetWatch()
		if username == WatchAll {
			username = ""
		}
		events, err := h.store.ListEvents(context.Background(), username, h.config.HistoryLimit)
		if err != nil {
			log.Printf("Failed to load event history: %v", err)
			_ = conn.WriteJSON(systemMessage("history_unavailable", "Unable to load event history"))
			return
		}
		for _, event := range events {
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("Failed to send history event: %v", err)
				return
			}
		}
	}

	// TECHNICAL DISCOVERY: Explicit completion signal enables client-side loading states
	if err := conn.WriteJSON(systemMessage("history_complete", "Event history loaded")); err != nil {
		log.Printf("Failed to send history complete message: %v", err)
	}
}

func systemMessage(event, message string) map[string]interface{} {
	return map[string]interface{}{
		"type": "system",
		"payload": map[string]interface{}{
			"event":   event,
			"message": message,
		},
		"timestamp": time.Now(),
	}
}

// handleConnection runs the heartbeat and read pump until the client leaves
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Dashboard disconnected: id=%s", conn.GetID())
	}()

	readTimeout := h.config.ReadTimeout
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.writeControl(websocket.PingMessage, time.Now().Add(h.config.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// FUNCTIONAL DISCOVERY: Dashboards only listen; inbound frames are read
	// to service pongs and detect disconnects
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}
