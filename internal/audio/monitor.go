// Package audio watches the microphone for sustained sound on its own
// schedule and exposes the latest result as a lock-free flag.
package audio

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"proctor/internal/capture"
)

// Config controls the monitor loop.
type Config struct {
	Threshold    float64
	PollInterval time.Duration
	ErrorBackoff time.Duration
	JoinTimeout  time.Duration
}

// DefaultConfig mirrors the station defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:    800,
		PollInterval: 50 * time.Millisecond,
		ErrorBackoff: 100 * time.Millisecond,
		JoinTimeout:  2 * time.Second,
	}
}

// Monitor owns the microphone for the duration of a session.
type Monitor struct {
	opener capture.MicrophoneOpener
	cfg    Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	mic     capture.Microphone

	current   atomic.Pointer[reading]
	threshold atomic.Uint64
}

// reading holds the results of one loop run. A loop that outlives its
// Stop keeps writing into its own reading, which nobody reads any more.
type reading struct {
	sound atomic.Bool
	level atomic.Uint64
}

// NewMonitor creates a stopped monitor.
func NewMonitor(opener capture.MicrophoneOpener, cfg Config) *Monitor {
	m := &Monitor{opener: opener, cfg: cfg}
	m.current.Store(&reading{})
	m.threshold.Store(math.Float64bits(cfg.Threshold))
	return m
}

// Start opens the microphone and launches the loop. Calling Start while
// running is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	mic, err := m.opener(ctx)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mic = mic
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	r := &reading{}
	m.current.Store(r)

	go m.loop(loopCtx, mic, r, m.done)
	log.Printf("[audio] monitor started threshold=%.0f", m.Threshold())
	return nil
}

// Stop cancels the loop, waits up to JoinTimeout for it to exit, and
// always releases the microphone. Calling Stop while stopped is a no-op.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done, mic := m.cancel, m.done, m.mic
	m.cancel, m.mic = nil, nil
	m.current.Store(&reading{})
	m.mu.Unlock()

	cancel()

	var joinErr error
	timer := time.NewTimer(m.cfg.JoinTimeout)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		joinErr = ErrJoinTimeout
		log.Printf("[audio] loop still running after %v, releasing device anyway", m.cfg.JoinTimeout)
	}

	if err := mic.Close(); err != nil {
		log.Printf("[audio] failed to close microphone: %v", err)
	}
	log.Printf("[audio] monitor stopped")
	return joinErr
}

// SoundDetected returns the latest result of the loop.
func (m *Monitor) SoundDetected() bool {
	return m.current.Load().sound.Load()
}

// Level returns the mean absolute amplitude of the last chunk.
func (m *Monitor) Level() float64 {
	return math.Float64frombits(m.current.Load().level.Load())
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Threshold returns the current amplitude threshold.
func (m *Monitor) Threshold() float64 {
	return math.Float64frombits(m.threshold.Load())
}

// SetThreshold changes the threshold for subsequent chunks.
func (m *Monitor) SetThreshold(v float64) {
	m.threshold.Store(math.Float64bits(v))
}

func (m *Monitor) loop(ctx context.Context, mic capture.Microphone, r *reading, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := mic.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !sleep(ctx, m.cfg.ErrorBackoff) {
				return
			}
			continue
		}

		level := MeanAbsAmplitude(chunk)
		r.level.Store(math.Float64bits(level))
		r.sound.Store(level > m.Threshold())

		if !sleep(ctx, m.cfg.PollInterval) {
			return
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// MeanAbsAmplitude returns the mean of |sample| over the chunk.
func MeanAbsAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}
