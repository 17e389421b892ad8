//go:build !cgo

package inference

import (
	"context"
	"fmt"

	"proctor/internal/capture"
	"proctor/internal/signals"
)

func InitRuntime(libraryPath string) error {
	return fmt.Errorf("%w: built without cgo", ErrModelUnavailable)
}

func ShutdownRuntime() error { return nil }

type YOLODetector struct{}

func LoadDetector(cfg ModelConfig, minConfidence float64) (*YOLODetector, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrModelUnavailable)
}

func (d *YOLODetector) Detect(ctx context.Context, frame capture.Frame) ([]signals.Detection, error) {
	return nil, ErrModelUnavailable
}

func (d *YOLODetector) Close() error { return nil }

type LivenessModel struct{}

func LoadLiveness(cfg ModelConfig, labels []string) (*LivenessModel, error) {
	return nil, fmt.Errorf("%w: built without cgo", ErrModelUnavailable)
}

func (m *LivenessModel) Classify(ctx context.Context, frame capture.Frame) (signals.Liveness, error) {
	return signals.Liveness{}, ErrModelUnavailable
}

func (m *LivenessModel) Close() error { return nil }
