//go:build cgo

package gstreamer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"proctor/internal/capture"
)

// Camera reads RGB frames from a V4L2 device through an appsink.
type Camera struct {
	pipeline    *gst.Pipeline
	frames      chan capture.Frame
	width       int
	height      int
	readTimeout time.Duration

	seq     uint64
	dropped uint64

	failure   atomic.Value // error
	done      chan struct{}
	closeOnce sync.Once
}

// OpenCamera builds and starts the camera pipeline:
//
//	v4l2src → videoconvert → [videoflip] → videoscale → videorate → RGB caps → appsink
func OpenCamera(ctx context.Context, cfg CameraConfig) (*Camera, error) {
	flip := ""
	if cfg.Mirror {
		flip = "videoflip method=horizontal-flip ! "
	}
	desc := fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! %svideoscale ! videorate ! "+
			"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink sync=false max-buffers=1 drop=true",
		cfg.Device, flip, cfg.Width, cfg.Height, cfg.FPS,
	)

	pipeline, sink, err := newAppSinkPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	c := &Camera{
		pipeline:    pipeline,
		frames:      make(chan capture.Frame, 2),
		width:       cfg.Width,
		height:      cfg.Height,
		readTimeout: timeout,
		done:        make(chan struct{}),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	if err := awaitStartup(pipeline, 500*time.Millisecond); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrDeviceUnavailable, cfg.Device, err)
	}
	if err := ctx.Err(); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, err
	}

	go watchBus(pipeline, c.done, func(err error) {
		c.failure.Store(err)
		log.Printf("[camera] %s failed: %v", cfg.Device, err)
	})

	log.Printf("[camera] opened device=%s size=%dx%d fps=%d mirror=%t",
		cfg.Device, cfg.Width, cfg.Height, cfg.FPS, cfg.Mirror)
	return c, nil
}

func (c *Camera) onSample(sink *app.Sink) gst.FlowReturn {
	data := pullBytes(sink)
	if data == nil || len(data) != c.width*c.height*3 {
		return gst.FlowOK
	}

	frame := capture.Frame{
		Seq:       atomic.AddUint64(&c.seq, 1),
		Timestamp: time.Now(),
		Width:     c.width,
		Height:    c.height,
		Pix:       data,
	}

	// Keep the newest frame: evict the oldest when the reader falls behind.
	select {
	case c.frames <- frame:
	default:
		select {
		case <-c.frames:
			atomic.AddUint64(&c.dropped, 1)
		default:
		}
		select {
		case c.frames <- frame:
		default:
			atomic.AddUint64(&c.dropped, 1)
		}
	}
	return gst.FlowOK
}

// Read returns the next frame, ErrNoFrame on timeout, or ErrDeviceClosed.
func (c *Camera) Read(ctx context.Context) (capture.Frame, error) {
	if err, ok := c.failure.Load().(error); ok {
		return capture.Frame{}, fmt.Errorf("%w: %v", capture.ErrDeviceClosed, err)
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return capture.Frame{}, capture.ErrDeviceClosed
	case <-ctx.Done():
		return capture.Frame{}, ctx.Err()
	case <-timer.C:
		return capture.Frame{}, capture.ErrNoFrame
	}
}

// Dropped reports how many frames were discarded because the reader lagged.
func (c *Camera) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

// Close stops the pipeline and releases the device. Safe to call twice.
func (c *Camera) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.pipeline.SetState(gst.StateNull)
		log.Printf("[camera] closed frames=%d dropped=%d", atomic.LoadUint64(&c.seq), c.Dropped())
	})
	return err
}

// CameraOpener adapts OpenCamera to capture.CameraOpener.
func CameraOpener(cfg CameraConfig) capture.CameraOpener {
	return func(ctx context.Context) (capture.Camera, error) {
		return OpenCamera(ctx, cfg)
	}
}
