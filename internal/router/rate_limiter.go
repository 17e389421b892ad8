package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-client token buckets
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond events per client with the given burst
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow reports whether client may send one more event now
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.clients[client]
	if !exists {
		limit = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = limit
	}
	limit.lastSeen = now
	return limit.limiter.AllowN(now, 1)
}

// Cleanup removes clients idle for longer than idle (call periodically)
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client, limit := range rl.clients {
		if now.Sub(limit.lastSeen) > idle {
			delete(rl.clients, client)
		}
	}
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
