package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Session lifecycle states as persisted in exam_sessions.status
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// End reasons recorded when a session leaves the active state
const (
	EndReasonStopped  = "stopped"
	EndReasonExpired  = "expired"
	EndReasonShutdown = "shutdown"
	EndReasonDevice   = "device_failure"
)

// ARCHITECTURAL DISCOVERY: Event type constants shared by the hub, the store
// and the dashboard clients so that every producer speaks the same vocabulary
const (
	EventSessionStarted  = "session_started"
	EventSessionStopped  = "session_stopped"
	EventSessionExpired  = "session_expired"
	EventMajorityChanged = "majority_changed"
	EventClipSaved       = "clip_saved"
	EventFocusLost       = "focus_lost"
)

// Session is one monitored exam attempt.
// FUNCTIONAL DISCOVERY: Only EndTime, Status and EndReason change after
// creation; the rest is fixed when the controller accepts the start request
type Session struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	StartTime time.Time     `json:"start_time"`
	Budget    time.Duration `json:"-"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Status    string        `json:"status"`
	EndReason string        `json:"end_reason,omitempty"`
}

// BudgetSeconds reports the total time budget in whole seconds.
func (s Session) BudgetSeconds() int {
	return int(s.Budget / time.Second)
}

// Remaining returns the non-negative time left in the budget at now.
func (s Session) Remaining(now time.Time) time.Duration {
	left := s.Budget - now.Sub(s.StartTime)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the budget has been used up at now.
func (s Session) Expired(now time.Time) bool {
	return now.Sub(s.StartTime) >= s.Budget
}

// Flag names a single behavioural signal.
type Flag string

const (
	FlagEyeMovement     Flag = "eye_movement"
	FlagHeadMovement    Flag = "head_movement"
	FlagSound           Flag = "sound"
	FlagMultiplePersons Flag = "multiple_persons"
	FlagBook            Flag = "book"
	FlagPhone           Flag = "phone"
	FlagNoFace          Flag = "no_face"
	FlagSpoofing        Flag = "spoofing"
)

// AllFlags lists every signal in a stable order.
var AllFlags = []Flag{
	FlagEyeMovement,
	FlagHeadMovement,
	FlagSound,
	FlagMultiplePersons,
	FlagBook,
	FlagPhone,
	FlagNoFace,
	FlagSpoofing,
}

// SignalSet is the per-frame snapshot of all behavioural signals.
type SignalSet struct {
	EyeMovement     bool `json:"eye_movement"`
	HeadMovement    bool `json:"head_movement"`
	Sound           bool `json:"sound"`
	MultiplePersons bool `json:"multiple_persons"`
	Book            bool `json:"book"`
	Phone           bool `json:"phone"`
	NoFace          bool `json:"no_face"`
	Spoofing        bool `json:"spoofing"`
}

// Get returns the value of a single flag. Unknown flags read as false.
func (s SignalSet) Get(f Flag) bool {
	switch f {
	case FlagEyeMovement:
		return s.EyeMovement
	case FlagHeadMovement:
		return s.HeadMovement
	case FlagSound:
		return s.Sound
	case FlagMultiplePersons:
		return s.MultiplePersons
	case FlagBook:
		return s.Book
	case FlagPhone:
		return s.Phone
	case FlagNoFace:
		return s.NoFace
	case FlagSpoofing:
		return s.Spoofing
	}
	return false
}

// Set assigns a single flag. Unknown flags are ignored.
func (s *SignalSet) Set(f Flag, v bool) {
	switch f {
	case FlagEyeMovement:
		s.EyeMovement = v
	case FlagHeadMovement:
		s.HeadMovement = v
	case FlagSound:
		s.Sound = v
	case FlagMultiplePersons:
		s.MultiplePersons = v
	case FlagBook:
		s.Book = v
	case FlagPhone:
		s.Phone = v
	case FlagNoFace:
		s.NoFace = v
	case FlagSpoofing:
		s.Spoofing = v
	}
}

// Active returns the names of the true flags sorted lexicographically.
func (s SignalSet) Active() []Flag {
	var active []Flag
	for _, f := range AllFlags {
		if s.Get(f) {
			active = append(active, f)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active
}

// Count returns the number of true flags.
func (s SignalSet) Count() int {
	n := 0
	for _, f := range AllFlags {
		if s.Get(f) {
			n++
		}
	}
	return n
}

// Verdict is the fused per-frame suspicion decision.
type Verdict struct {
	Cheating bool   `json:"cheating"`
	Count    int    `json:"count"`
	Flags    []Flag `json:"flags"`
}

// Sample is one TimeSeries entry. It serialises as the pair
// [elapsed_seconds, majority_cheating] expected by the dashboard charts.
type Sample struct {
	ElapsedSeconds   float64
	MajorityCheating bool
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{s.ElapsedSeconds, s.MajorityCheating})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("sample must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &s.ElapsedSeconds); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &s.MajorityCheating)
}

// ClipRecord is the metadata row kept for every saved evidence clip.
type ClipRecord struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Username        string    `json:"username"`
	Filename        string    `json:"filename"`
	Path            string    `json:"path"`
	DurationSeconds float64   `json:"duration_seconds"`
	Frames          int       `json:"frames"`
	Flags           []Flag    `json:"flags"`
	Forced          bool      `json:"forced"`
	CreatedAt       time.Time `json:"created_at"`
}

// ClipInfo describes a clip file found on disk.
type ClipInfo struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	SizeMB    float64   `json:"size_mb"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
}

// Event is a notable occurrence pushed to dashboards and stored for audit.
// ARCHITECTURAL DISCOVERY: Payload as map[string]interface{} keeps the event
// envelope stable while individual event kinds carry their own fields
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Username  string                 `json:"username"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
