// Package gstreamer implements the capture devices and the clip encoder on
// top of GStreamer pipelines.
package gstreamer

import "time"

// CameraConfig describes the V4L2 camera pipeline.
type CameraConfig struct {
	Device      string
	Width       int
	Height      int
	FPS         int
	Mirror      bool
	ReadTimeout time.Duration
}

// MicrophoneConfig describes the PCM capture pipeline.
type MicrophoneConfig struct {
	SampleRate int
	ChunkSize  int
}

// Encoder writes RGB frame sequences to MPEG-4 files.
type Encoder struct {
	// Timeout bounds how long Encode waits for the muxer to finish.
	Timeout time.Duration
}

// NewEncoder returns an encoder with a 30 second finalisation timeout.
func NewEncoder() *Encoder {
	return &Encoder{Timeout: 30 * time.Second}
}
