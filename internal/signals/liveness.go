package signals

import (
	"context"

	"proctor/internal/capture"
)

// LabelReal is the liveness class for a genuine face.
const LabelReal = "real"

// Liveness is the anti-spoofing classification of a frame.
type Liveness struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Real reports whether the frame shows a live face.
func (l Liveness) Real() bool {
	return l.Label == LabelReal
}

// RealLiveness is the value used when no classifier is available.
var RealLiveness = Liveness{Label: LabelReal, Score: 1.0}

// LivenessClassifier labels a frame as real or spoofed.
type LivenessClassifier interface {
	Classify(ctx context.Context, frame capture.Frame) (Liveness, error)
}

// AlwaysReal stands in for a missing anti-spoofing model.
type AlwaysReal struct{}

func (AlwaysReal) Classify(ctx context.Context, frame capture.Frame) (Liveness, error) {
	return RealLiveness, nil
}
