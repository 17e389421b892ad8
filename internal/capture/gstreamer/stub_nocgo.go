//go:build !cgo

package gstreamer

import (
	"context"
	"errors"

	"proctor/internal/capture"
)

// ErrUnsupported is returned by every entry point in builds without cgo.
var ErrUnsupported = errors.New("gstreamer support requires cgo")

type Camera struct{}

func OpenCamera(ctx context.Context, cfg CameraConfig) (*Camera, error) {
	return nil, errors.Join(capture.ErrDeviceUnavailable, ErrUnsupported)
}

func (c *Camera) Read(ctx context.Context) (capture.Frame, error) {
	return capture.Frame{}, capture.ErrDeviceClosed
}

func (c *Camera) Close() error { return nil }

func CameraOpener(cfg CameraConfig) capture.CameraOpener {
	return func(ctx context.Context) (capture.Camera, error) {
		return nil, errors.Join(capture.ErrDeviceUnavailable, ErrUnsupported)
	}
}

type Microphone struct{}

func OpenMicrophone(ctx context.Context, cfg MicrophoneConfig) (*Microphone, error) {
	return nil, errors.Join(capture.ErrDeviceUnavailable, ErrUnsupported)
}

func (m *Microphone) ReadChunk(ctx context.Context) ([]int16, error) {
	return nil, capture.ErrDeviceClosed
}

func (m *Microphone) Close() error { return nil }

func MicrophoneOpener(cfg MicrophoneConfig) capture.MicrophoneOpener {
	return func(ctx context.Context) (capture.Microphone, error) {
		return nil, errors.Join(capture.ErrDeviceUnavailable, ErrUnsupported)
	}
}

func (e *Encoder) Encode(ctx context.Context, path string, frames []capture.Frame, fps int) error {
	return ErrUnsupported
}
