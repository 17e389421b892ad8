// Package recorder buffers frames while the verdict is cheating and hands
// finished streaks to the archiver as evidence clips.
package recorder

import (
	"log"
	"sort"
	"sync"
	"time"

	"proctor/internal/capture"
	"proctor/pkg/types"
)

// State of a Recorder.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Clip is a closed cheating streak ready to be written.
type Clip struct {
	SessionID string
	Username  string
	StartedAt time.Time
	Duration  time.Duration
	Frames    []capture.Frame
	Flags     []types.Flag
	Forced    bool
}

// Sink accepts finished clips.
type Sink interface {
	Submit(clip Clip) error
}

// Config bounds a recording.
type Config struct {
	MinDuration time.Duration
	// MaxFrames caps the buffer. Once the streak has lasted MinDuration,
	// reaching the cap writes the buffered segment and the streak continues
	// in a fresh buffer; before that the oldest frame is dropped instead.
	// Zero means unbounded.
	MaxFrames int
}

// Recorder is the per-session Idle/Recording state machine.
type Recorder struct {
	mu        sync.Mutex
	sessionID string
	username  string
	cfg       Config
	sink      Sink

	state State
	// streak is when the cheating run began; started is the first frame
	// still held in the buffer. They differ after a rollover or a drop.
	streak  time.Time
	started time.Time
	frames  []capture.Frame
	times   []time.Time
	flags   map[types.Flag]struct{}
}

// New returns an idle recorder for one session.
func New(sessionID, username string, cfg Config, sink Sink) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		username:  username,
		cfg:       cfg,
		sink:      sink,
	}
}

// Observe feeds one processed frame. A cheating verdict opens a streak if
// needed and appends the frame and its flags; a clean verdict closes an
// open streak.
func (r *Recorder) Observe(now time.Time, frame capture.Frame, verdict types.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !verdict.Cheating {
		if r.state == StateRecording {
			r.closeLocked(now, false)
		}
		return
	}

	if r.state == StateIdle {
		r.state = StateRecording
		r.streak = now
		r.resetBuffer(now)
		log.Printf("[recorder] streak opened user=%s", r.username)
	}
	if len(r.frames) == 0 {
		r.started = now
	}

	r.frames = append(r.frames, frame.Clone())
	r.times = append(r.times, now)
	for _, f := range verdict.Flags {
		r.flags[f] = struct{}{}
	}

	if r.cfg.MaxFrames <= 0 || len(r.frames) < r.cfg.MaxFrames {
		return
	}
	if now.Sub(r.streak) < r.cfg.MinDuration {
		// The streak may still end short, so nothing can be written yet.
		r.frames[0] = capture.Frame{}
		r.frames = r.frames[1:]
		r.times = r.times[1:]
		if len(r.times) > 0 {
			r.started = r.times[0]
		}
		return
	}
	log.Printf("[recorder] buffer reached %d frames, rolling over", len(r.frames))
	r.submitLocked(now, false)
	r.resetBuffer(now)
}

func (r *Recorder) resetBuffer(now time.Time) {
	r.started = now
	r.frames = nil
	r.times = nil
	r.flags = make(map[types.Flag]struct{})
}

// Close ends any open streak. With force the clip is kept regardless of
// its duration. It reports whether a clip was handed to the sink.
func (r *Recorder) Close(now time.Time, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return false
	}
	return r.closeLocked(now, force)
}

// closeLocked ends the streak. The minimum applies to the whole streak,
// not to the segment still buffered.
func (r *Recorder) closeLocked(now time.Time, force bool) bool {
	defer func() {
		r.state = StateIdle
		r.frames = nil
		r.times = nil
		r.flags = nil
	}()

	if streak := now.Sub(r.streak); streak < r.cfg.MinDuration && !force {
		log.Printf("[recorder] streak of %.2fs below minimum %.2fs, discarded",
			streak.Seconds(), r.cfg.MinDuration.Seconds())
		return false
	}
	return r.submitLocked(now, force)
}

// submitLocked hands the buffered segment to the sink.
func (r *Recorder) submitLocked(now time.Time, force bool) bool {
	if len(r.frames) == 0 {
		return false
	}
	clip := Clip{
		SessionID: r.sessionID,
		Username:  r.username,
		StartedAt: r.started,
		Duration:  now.Sub(r.started),
		Frames:    r.frames,
		Flags:     r.sortedFlags(),
		Forced:    force,
	}
	if err := r.sink.Submit(clip); err != nil {
		log.Printf("[recorder] failed to queue clip: %v", err)
		return false
	}
	return true
}

func (r *Recorder) sortedFlags() []types.Flag {
	flags := make([]types.Flag, 0, len(r.flags))
	for f := range r.flags {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	return flags
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Buffered returns the number of frames in the open streak.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// SetMinDuration changes the threshold applied to the next close.
func (r *Recorder) SetMinDuration(d time.Duration) {
	r.mu.Lock()
	r.cfg.MinDuration = d
	r.mu.Unlock()
}
