//go:build cgo

package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"proctor/internal/capture"
)

// Encode writes frames to path as MPEG-4 video at fps. Frames whose size
// differs from the first frame are skipped.
func (e *Encoder) Encode(ctx context.Context, path string, frames []capture.Frame, fps int) error {
	if len(frames) == 0 {
		return errors.New("no frames to encode")
	}
	if fps <= 0 {
		return fmt.Errorf("invalid fps %d", fps)
	}
	initGStreamer()

	width, height := frames[0].Width, frames[0].Height
	desc := fmt.Sprintf(
		"appsrc name=src format=time is-live=false "+
			"caps=video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1 ! "+
			"videoconvert ! avenc_mpeg4 bitrate=2000000 ! mp4mux ! filesink name=out",
		width, height, fps,
	)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create encoder pipeline: %w", err)
	}
	defer func() { _ = pipeline.SetState(gst.StateNull) }()

	out, err := pipeline.GetElementByName("out")
	if err != nil {
		return fmt.Errorf("failed to find filesink: %w", err)
	}
	if err := out.SetProperty("location", path); err != nil {
		return fmt.Errorf("failed to set output location: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return fmt.Errorf("failed to find appsrc: %w", err)
	}
	src := app.SrcFromElement(srcElem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	frameDuration := time.Second / time.Duration(fps)
	var pts time.Duration
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Width != width || f.Height != height || !f.Valid() {
			continue
		}
		buf := gst.NewBufferFromBytes(f.Pix)
		buf.SetPresentationTimestamp(pts)
		buf.SetDuration(frameDuration)
		if ret := src.PushBuffer(buf); ret != gst.FlowOK {
			return fmt.Errorf("push buffer: %s", ret.String())
		}
		pts += frameDuration
	}
	src.EndStream()

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return waitForEOS(ctx, pipeline, timeout)
}

func waitForEOS(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("encoder error: %s", gerr.Error())
		}
	}
	return fmt.Errorf("encoder did not finish within %v", timeout)
}
