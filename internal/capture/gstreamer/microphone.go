//go:build cgo

package gstreamer

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"proctor/internal/capture"
)

// Microphone reads signed 16-bit little-endian mono PCM through an appsink.
type Microphone struct {
	pipeline *gst.Pipeline
	chunk    int
	samples  chan []int16
	pending  []int16 // touched only by the ReadChunk caller

	failure   atomic.Value // error
	done      chan struct{}
	closeOnce sync.Once
}

// OpenMicrophone builds and starts:
//
//	autoaudiosrc → audioconvert → audioresample → S16LE mono caps → appsink
func OpenMicrophone(ctx context.Context, cfg MicrophoneConfig) (*Microphone, error) {
	desc := fmt.Sprintf(
		"autoaudiosrc ! audioconvert ! audioresample ! "+
			"audio/x-raw,format=S16LE,channels=1,rate=%d,layout=interleaved ! "+
			"appsink name=sink sync=false",
		cfg.SampleRate,
	)

	pipeline, sink, err := newAppSinkPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	m := &Microphone{
		pipeline: pipeline,
		chunk:    cfg.ChunkSize,
		samples:  make(chan []int16, 64),
		done:     make(chan struct{}),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: m.onSample,
	})

	if err := awaitStartup(pipeline, 500*time.Millisecond); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: microphone: %v", capture.ErrDeviceUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, err
	}

	go watchBus(pipeline, m.done, func(err error) {
		m.failure.Store(err)
		log.Printf("[audio] microphone failed: %v", err)
	})

	log.Printf("[audio] microphone opened rate=%d chunk=%d", cfg.SampleRate, cfg.ChunkSize)
	return m, nil
}

func (m *Microphone) onSample(sink *app.Sink) gst.FlowReturn {
	data := pullBytes(sink)
	if len(data) < 2 {
		return gst.FlowOK
	}

	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	select {
	case m.samples <- pcm:
	default:
		// Reader stalled; drop the oldest block to stay near real time.
		select {
		case <-m.samples:
		default:
		}
		select {
		case m.samples <- pcm:
		default:
		}
	}
	return gst.FlowOK
}

// ReadChunk returns exactly ChunkSize samples.
func (m *Microphone) ReadChunk(ctx context.Context) ([]int16, error) {
	for len(m.pending) < m.chunk {
		if err, ok := m.failure.Load().(error); ok {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceClosed, err)
		}
		select {
		case block := <-m.samples:
			m.pending = append(m.pending, block...)
		case <-m.done:
			return nil, capture.ErrDeviceClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]int16, m.chunk)
	copy(out, m.pending[:m.chunk])
	m.pending = append(m.pending[:0], m.pending[m.chunk:]...)
	return out, nil
}

// Close stops the pipeline and releases the device. Safe to call twice.
func (m *Microphone) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.pipeline.SetState(gst.StateNull)
		log.Printf("[audio] microphone closed")
	})
	return err
}

// MicrophoneOpener adapts OpenMicrophone to capture.MicrophoneOpener.
func MicrophoneOpener(cfg MicrophoneConfig) capture.MicrophoneOpener {
	return func(ctx context.Context) (capture.Microphone, error) {
		return OpenMicrophone(ctx, cfg)
	}
}
