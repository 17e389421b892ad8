package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"proctor/pkg/types"
)

// EventRouter persists and delivers a single event
type EventRouter interface {
	RouteEvent(ctx context.Context, event *types.Event) error
}

// Hub serialises event delivery from every producer
// ARCHITECTURAL DISCOVERY: Central coordination point for all event flow
// keeps the frame loop and HTTP handlers from blocking on slow dashboards
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs bursts around session
	// start/stop and clip saves
	eventChannel    chan types.Event
	shutdownChannel chan struct{}
	done            chan struct{}

	router EventRouter

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub(router EventRouter) *Hub {
	return &Hub{
		eventChannel:    make(chan types.Event, 1000),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		router:          router,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine keeps per-user event order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting event hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down after delivering queued events
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	log.Println("Stopping event hub...")
	<-h.done
	return nil
}

// Publish queues an event for delivery. It implements interfaces.EventPublisher.
// TECHNICAL DISCOVERY: Non-blocking send prevents the frame loop from stalling
func (h *Hub) Publish(event types.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case h.eventChannel <- event:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.handleEvent(ctx, event)

		case <-h.shutdownChannel:
			h.drain(ctx)
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// drain delivers whatever was queued before Stop
func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case event := <-h.eventChannel:
			h.handleEvent(ctx, event)
		default:
			return
		}
	}
}

// handleEvent routes one event
// TECHNICAL DISCOVERY: Router errors logged but don't crash hub
func (h *Hub) handleEvent(ctx context.Context, event types.Event) {
	if err := h.router.RouteEvent(ctx, &event); err != nil {
		log.Printf("Event routing failed: type=%s user=%s: %v", event.Type, event.Username, err)
	}
}
