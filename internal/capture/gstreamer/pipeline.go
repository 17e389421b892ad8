//go:build cgo

package gstreamer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var initOnce sync.Once

func initGStreamer() {
	initOnce.Do(func() { gst.Init(nil) })
}

// newAppSinkPipeline parses desc and returns the pipeline with its appsink
// named "sink".
func newAppSinkPipeline(desc string) (*gst.Pipeline, *app.Sink, error) {
	initGStreamer()

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, nil, fmt.Errorf("failed to find appsink: %w", err)
	}

	return pipeline, app.SinkFromElement(elem), nil
}

// awaitStartup plays the pipeline and watches the bus briefly so that a
// missing device fails the open instead of the first read.
func awaitStartup(pipeline *gst.Pipeline, grace time.Duration) error {
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		case gst.MessageEOS:
			return errors.New("pipeline ended during startup")
		}
	}
	return nil
}

// watchBus reports the first error or EOS seen on the bus after startup.
func watchBus(pipeline *gst.Pipeline, done <-chan struct{}, onFailure func(error)) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-done:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			onFailure(fmt.Errorf("pipeline error: %s", gerr.Error()))
			return
		case gst.MessageEOS:
			onFailure(errors.New("end of stream"))
			return
		}
	}
}

// pullBytes copies the payload of the next sample out of the appsink.
// GStreamer reuses the buffer once the callback returns.
func pullBytes(sink *app.Sink) []byte {
	sample := sink.PullSample()
	if sample == nil {
		return nil
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()
	return out
}
