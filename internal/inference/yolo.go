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

// YOLODetector runs a COCO-trained YOLOv8 ONNX model.
type YOLODetector struct {
	mu            sync.Mutex
	session       *ort.DynamicAdvancedSession
	size          int
	anchors       int
	minConfidence float64
}

// LoadDetector opens the object model. Any failure returns
// ErrModelUnavailable so the caller can run without object signals.
func LoadDetector(cfg ModelConfig, minConfidence float64) (*YOLODetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no object model configured", ErrModelUnavailable)
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
		size = 640
	}
	// Three detection strides: 8, 16 and 32 pixels.
	anchors := (size/8)*(size/8) + (size/16)*(size/16) + (size/32)*(size/32)

	log.Printf("[inference] object model loaded path=%s input=%d anchors=%d", cfg.ModelPath, size, anchors)
	return &YOLODetector{
		session:       session,
		size:          size,
		anchors:       anchors,
		minConfidence: minConfidence,
	}, nil
}

// Detect implements signals.ObjectDetector.
func (d *YOLODetector) Detect(ctx context.Context, frame capture.Frame) ([]signals.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, s := ToTensor(frame, d.size)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(d.size), int64(d.size)), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	classes := len(COCOLabels)
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+classes), int64(d.anchors)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	d.mu.Lock()
	err = d.session.Run([]ort.Value{input}, []ort.Value{output})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("object inference failed: %w", err)
	}

	return DecodeYOLO(output.GetData(), classes, d.anchors, d.minConfidence, s, COCOLabels), nil
}

// Close releases the session.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}
