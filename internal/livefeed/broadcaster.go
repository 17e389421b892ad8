// Package livefeed renders annotated frames and fans them out to viewers
// of the live video feed.
package livefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrFeedClosed       = errors.New("live feed closed")
	ErrSubscriberExists = errors.New("subscriber id already exists")
)

// Frame is one encoded image of the feed.
type Frame struct {
	JPEG      []byte
	Seq       uint64
	Timestamp time.Time
}

// Subscription receives the newest frames for one viewer. Slow viewers
// lose old frames, never new ones.
type Subscription struct {
	id   string
	ch   chan Frame
	done chan struct{}
	once sync.Once

	dropped atomic.Uint64
}

// ID returns the subscriber id.
func (s *Subscription) ID() string {
	return s.id
}

// Next blocks for the next frame. Frames already buffered are delivered
// even after the subscription ends.
func (s *Subscription) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.ch:
		return f, nil
	default:
	}
	select {
	case f := <-s.ch:
		return f, nil
	case <-s.done:
		return Frame{}, ErrFeedClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many frames were evicted before this viewer read them.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) end() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) offer(f Frame) {
	select {
	case s.ch <- f:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- f:
	default:
		s.dropped.Add(1)
	}
}

// Broadcaster distributes frames to every subscription without blocking
// the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool

	published atomic.Uint64
}

// NewBroadcaster returns a broadcaster whose subscriptions hold up to
// buffer frames.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[string]*Subscription), buffer: buffer}
}

// Subscribe registers a viewer.
func (b *Broadcaster) Subscribe(id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrFeedClosed
	}
	if _, exists := b.subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	s := &Subscription{id: id, ch: make(chan Frame, b.buffer), done: make(chan struct{})}
	b.subs[id] = s
	return s, nil
}

// Unsubscribe ends and removes a viewer. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.end()
	}
}

// Publish offers f to every viewer.
func (b *Broadcaster) Publish(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		s.offer(f)
	}
}

// Subscribers returns the number of viewers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of Publish calls since creation.
func (b *Broadcaster) Published() uint64 {
	return b.published.Load()
}

// Close ends every subscription. Later Subscribe calls fail.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.end()
	}
}
