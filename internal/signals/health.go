package signals

import (
	"log"
	"sync"
)

// Health tracks consecutive failures of one extractor for one session.
// The first failure is logged; after max consecutive failures the
// extractor is disabled for the rest of the session and that is logged
// once too.
type Health struct {
	mu          sync.Mutex
	name        string
	max         int
	consecutive int
	total       int
	logged      bool
	disabled    bool
}

// NewHealth returns a tracker for the named extractor. A non-positive max
// never disables.
func NewHealth(name string, max int) *Health {
	return &Health{name: name, max: max}
}

// Enabled reports whether the extractor should still run.
func (h *Health) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.disabled
}

// Success resets the consecutive failure count.
func (h *Health) Success() {
	h.mu.Lock()
	h.consecutive = 0
	h.mu.Unlock()
}

// Failure records err and reports whether this failure disabled the extractor.
func (h *Health) Failure(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutive++
	h.total++
	if !h.logged {
		h.logged = true
		log.Printf("[signals] %s failed: %v", h.name, err)
	}
	if h.max > 0 && !h.disabled && h.consecutive >= h.max {
		h.disabled = true
		log.Printf("[signals] %s disabled after %d consecutive failures", h.name, h.consecutive)
		return true
	}
	return false
}

// Failures returns the total failure count.
func (h *Health) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
