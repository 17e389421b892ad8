package signals

// Sampler holds the last computed value of a signal that is only refreshed
// every few frames. Between refreshes the previous value stands.
//
// A Sampler is not safe for concurrent use; each one belongs to a single
// extraction goroutine.
type Sampler[T any] struct {
	every  int
	phase  int
	value  T
	stored int
	has    bool
}

// NewSampler returns a sampler due on frame indices phase, phase+every,
// phase+2*every and so on, holding initial until the first Store.
// A non-positive every disables refreshes.
func NewSampler[T any](every, phase int, initial T) *Sampler[T] {
	return &Sampler[T]{every: every, phase: phase, value: initial, stored: -1}
}

// Due reports whether the signal should be recomputed for frameIndex
// (0-based).
func (s *Sampler[T]) Due(frameIndex int) bool {
	if s.every <= 0 || frameIndex < s.phase {
		return false
	}
	return (frameIndex-s.phase)%s.every == 0
}

// Store records a freshly computed value for frameIndex.
func (s *Sampler[T]) Store(frameIndex int, v T) {
	s.value = v
	s.stored = frameIndex
	s.has = true
}

// Value returns the last stored value, or the initial value.
func (s *Sampler[T]) Value() T {
	return s.value
}

// Fresh reports whether any value has been stored.
func (s *Sampler[T]) Fresh() bool {
	return s.has
}

// Age returns how many frames old the value is at frameIndex, or -1 when
// nothing has been stored yet.
func (s *Sampler[T]) Age(frameIndex int) int {
	if !s.has {
		return -1
	}
	return frameIndex - s.stored
}
