// Package capture defines the frame and device abstractions shared by the
// perception pipeline. Concrete devices live in subpackages.
package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when a camera or microphone cannot be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrDeviceClosed is returned by reads after Close.
	ErrDeviceClosed = errors.New("capture device closed")
	// ErrNoFrame is returned when a read times out without a frame.
	ErrNoFrame = errors.New("no frame available")
)

// Frame is one RGB24 video frame. Pix is row-major with a stride of
// 3*Width bytes. Frames handed to consumers must be treated as immutable;
// use Clone before modifying.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []byte
}

// Valid reports whether the pixel buffer matches the declared size.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	f.Pix = pix
	return f
}

// Mirrored returns a horizontally flipped copy.
func (f Frame) Mirrored() Frame {
	out := f.Clone()
	stride := f.Width * 3
	for y := 0; y < f.Height; y++ {
		row := out.Pix[y*stride : (y+1)*stride]
		for l, r := 0, f.Width-1; l < r; l, r = l+1, r-1 {
			li, ri := l*3, r*3
			row[li], row[ri] = row[ri], row[li]
			row[li+1], row[ri+1] = row[ri+1], row[li+1]
			row[li+2], row[ri+2] = row[ri+2], row[li+2]
		}
	}
	return out
}

// RGBAt returns the colour at (x, y).
func (f Frame) RGBAt(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Image converts the frame to an *image.RGBA.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage builds a frame from any image, dropping alpha.
func FromImage(img image.Image, seq uint64, ts time.Time) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, w*h*3)
	for i, j := 0, 0; i < len(pix); i, j = i+3, j+4 {
		pix[i] = rgba.Pix[j]
		pix[i+1] = rgba.Pix[j+1]
		pix[i+2] = rgba.Pix[j+2]
	}
	return Frame{Seq: seq, Timestamp: ts, Width: w, Height: h, Pix: pix}
}

// Solid returns a frame filled with one colour. Used by fakes and tests.
func Solid(w, h int, c color.RGBA, seq uint64, ts time.Time) Frame {
	pix := make([]byte, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = c.R, c.G, c.B
	}
	return Frame{Seq: seq, Timestamp: ts, Width: w, Height: h, Pix: pix}
}

// Camera delivers frames from a video device.
type Camera interface {
	// Read blocks until the next frame, the context ends or the device closes.
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Microphone delivers fixed-size chunks of signed 16-bit mono PCM.
type Microphone interface {
	ReadChunk(ctx context.Context) ([]int16, error)
	Close() error
}

// CameraOpener opens the camera for a new session.
type CameraOpener func(ctx context.Context) (Camera, error)

// MicrophoneOpener opens the microphone for a new session.
type MicrophoneOpener func(ctx context.Context) (Microphone, error)
