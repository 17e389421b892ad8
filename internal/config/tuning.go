package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Tuning is the subset of configuration read on every frame. It is
// replaced as a whole, never mutated in place, so readers can hold a
// snapshot for the duration of a frame without locking.
type Tuning struct {
	VoteThreshold        int           `json:"vote_threshold"`
	GazeLowerBand        float64       `json:"gaze_lower_band"`
	GazeUpperBand        float64       `json:"gaze_upper_band"`
	YawLimitDegrees      float64       `json:"yaw_limit_degrees"`
	PitchLimitDegrees    float64       `json:"pitch_limit_degrees"`
	ObjectEvery          int           `json:"object_every"`
	LivenessEvery        int           `json:"liveness_every"`
	ObjectConfidence     float64       `json:"object_confidence"`
	SmoothingWindow      time.Duration `json:"smoothing_window"`
	MaxExtractorFailures int           `json:"max_extractor_failures"`
	MinClipDuration      time.Duration `json:"min_clip_duration"`
	MaxBufferedFrames    int           `json:"max_buffered_frames"`
	AudioThreshold       float64       `json:"audio_threshold"`
	DefaultBudget        time.Duration `json:"default_budget"`
}

// Tuning extracts the per-frame knobs from the full configuration.
func (c *Config) Tuning() Tuning {
	t := Tuning{}
	if d := c.Detection; d != nil {
		t.VoteThreshold = d.VoteThreshold
		t.GazeLowerBand = d.GazeLowerBand
		t.GazeUpperBand = d.GazeUpperBand
		t.YawLimitDegrees = d.YawLimitDegrees
		t.PitchLimitDegrees = d.PitchLimitDegrees
		t.ObjectEvery = d.ObjectEvery
		t.LivenessEvery = d.LivenessEvery
		t.ObjectConfidence = d.ObjectConfidence
		t.SmoothingWindow = d.SmoothingWindow
		t.MaxExtractorFailures = d.MaxExtractorFailures
	}
	if r := c.Recording; r != nil {
		t.MinClipDuration = r.MinDuration
		t.MaxBufferedFrames = r.MaxBufferedFrames
	}
	if a := c.Audio; a != nil {
		t.AudioThreshold = a.Threshold
	}
	if s := c.Session; s != nil {
		t.DefaultBudget = s.DefaultBudget
	}
	return t
}

// Validate checks the knobs for internally consistent values.
func (t Tuning) Validate() error {
	if t.VoteThreshold < 1 || t.VoteThreshold > 8 {
		return fmt.Errorf("vote threshold must be between 1 and 8")
	}
	if t.GazeLowerBand <= 0 || t.GazeUpperBand >= 1 || t.GazeLowerBand >= t.GazeUpperBand {
		return fmt.Errorf("gaze bands must satisfy 0 < lower < upper < 1")
	}
	if t.YawLimitDegrees <= 0 || t.PitchLimitDegrees <= 0 {
		return fmt.Errorf("head pose limits must be positive")
	}
	if t.ObjectEvery <= 0 || t.LivenessEvery <= 0 {
		return fmt.Errorf("detector cadences must be positive")
	}
	if t.ObjectConfidence <= 0 || t.ObjectConfidence >= 1 {
		return fmt.Errorf("object confidence must be between 0 and 1")
	}
	if t.SmoothingWindow <= 0 {
		return fmt.Errorf("smoothing window must be positive")
	}
	if t.MaxExtractorFailures <= 0 {
		return fmt.Errorf("max extractor failures must be positive")
	}
	if t.MinClipDuration < 0 {
		return fmt.Errorf("minimum clip duration cannot be negative")
	}
	if t.MaxBufferedFrames <= 0 {
		return fmt.Errorf("max buffered frames must be positive")
	}
	if t.AudioThreshold <= 0 {
		return fmt.Errorf("audio threshold must be positive")
	}
	if t.DefaultBudget <= 0 {
		return fmt.Errorf("default exam duration must be positive")
	}
	return nil
}

// TuningStore publishes the current Tuning to concurrent readers.
type TuningStore struct {
	current atomic.Pointer[Tuning]
	mu      sync.Mutex // serialises Update read-modify-write
}

// NewTuningStore creates a store holding initial.
func NewTuningStore(initial Tuning) *TuningStore {
	s := &TuningStore{}
	s.current.Store(&initial)
	return s
}

// Load returns the current snapshot.
func (s *TuningStore) Load() Tuning {
	return *s.current.Load()
}

// Store validates and replaces the snapshot.
func (s *TuningStore) Store(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current.Store(&t)
	s.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current snapshot and stores the
// result if it validates.
func (s *TuningStore) Update(fn func(*Tuning)) (Tuning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	fn(&next)
	if err := next.Validate(); err != nil {
		return *s.current.Load(), err
	}
	s.current.Store(&next)
	return next, nil
}
