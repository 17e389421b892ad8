// Package fusion combines per-frame signals into a verdict and smooths
// verdicts over a sliding time window.
package fusion

import (
	"sync"
	"time"

	"proctor/pkg/types"
)

// DefaultVoteThreshold is the number of simultaneous flags that make a
// frame suspicious.
const DefaultVoteThreshold = 2

// Fuse counts the true flags and marks the frame as cheating when the count
// reaches threshold. Flags are sorted by name.
func Fuse(signals types.SignalSet, threshold int) types.Verdict {
	flags := signals.Active()
	return types.Verdict{
		Cheating: len(flags) >= threshold,
		Count:    len(flags),
		Flags:    flags,
	}
}

type observation struct {
	at       time.Duration
	cheating bool
}

// Smoother keeps the verdicts of the last window of session time and
// reports whether strictly more than half of them were cheating.
type Smoother struct {
	mu      sync.Mutex
	window  time.Duration
	entries []observation
	hits    int
}

// NewSmoother returns a smoother over window.
func NewSmoother(window time.Duration) *Smoother {
	return &Smoother{window: window}
}

// Observe adds the verdict seen at elapsed, evicts entries older than the
// window relative to elapsed, and returns the majority.
func (s *Smoother) Observe(elapsed time.Duration, cheating bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, observation{at: elapsed, cheating: cheating})
	if cheating {
		s.hits++
	}

	cut := 0
	for cut < len(s.entries) && elapsed-s.entries[cut].at > s.window {
		if s.entries[cut].cheating {
			s.hits--
		}
		cut++
	}
	if cut > 0 {
		s.entries = append(s.entries[:0], s.entries[cut:]...)
	}

	return s.hits*2 > len(s.entries)
}

// SetWindow changes the window for subsequent observations.
func (s *Smoother) SetWindow(window time.Duration) {
	s.mu.Lock()
	s.window = window
	s.mu.Unlock()
}

// Len returns the number of verdicts in the window.
func (s *Smoother) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset empties the window.
func (s *Smoother) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.hits = 0
	s.mu.Unlock()
}
