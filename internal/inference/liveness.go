//go:build cgo

package inference

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"proctor/internal/capture"
	"proctor/internal/signals"
)

// LivenessModel runs an image classifier whose classes include "real".
type LivenessModel struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	size    int
	labels  []string
}

// LoadLiveness opens the anti-spoofing model. Any failure returns
// ErrModelUnavailable so the caller can fall back to signals.AlwaysReal.
func LoadLiveness(cfg ModelConfig, labels []string) (*LivenessModel, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no liveness model configured", ErrModelUnavailable)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: liveness model needs class labels", ErrModelUnavailable)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if err := InitRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	in, out := cfg.names()
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{in}, []string{out}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %v", ErrModelUnavailable, err)
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 224
	}

	log.Printf("[inference] liveness model loaded path=%s classes=%v", cfg.ModelPath, labels)
	return &LivenessModel{session: session, size: size, labels: labels}, nil
}

// Classify implements signals.LivenessClassifier.
func (m *LivenessModel) Classify(ctx context.Context, frame capture.Frame) (signals.Liveness, error) {
	if err := ctx.Err(); err != nil {
		return signals.Liveness{}, err
	}
	data, _ := ToTensor(frame, m.size)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(m.size), int64(m.size)), data)
	if err != nil {
		return signals.Liveness{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(m.labels))))
	if err != nil {
		return signals.Liveness{}, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	m.mu.Lock()
	err = m.session.Run([]ort.Value{input}, []ort.Value{output})
	m.mu.Unlock()
	if err != nil {
		return signals.Liveness{}, fmt.Errorf("liveness inference failed: %w", err)
	}

	return DecodeLiveness(output.GetData(), m.labels), nil
}

// Close releases the session.
func (m *LivenessModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
