// Package inference adapts the black-box vision models to the signal
// extractor interfaces. Model-backed types need cgo and the ONNX Runtime
// shared library; the decoding helpers are pure Go.
package inference

import (
	"errors"
	"image"

	"golang.org/x/image/draw"

	"proctor/internal/capture"
)

// ErrModelUnavailable is returned when a model cannot be loaded. Callers
// treat the capability as absent.
var ErrModelUnavailable = errors.New("inference model unavailable")

// Default tensor names of an Ultralytics ONNX export.
const (
	DefaultInputName  = "images"
	DefaultOutputName = "output0"
)

// ModelConfig locates one ONNX model.
type ModelConfig struct {
	LibraryPath string
	ModelPath   string
	InputSize   int
	InputName   string
	OutputName  string
}

func (c ModelConfig) names() (string, string) {
	in, out := c.InputName, c.OutputName
	if in == "" {
		in = DefaultInputName
	}
	if out == "" {
		out = DefaultOutputName
	}
	return in, out
}

// scale maps model-space coordinates back onto the source frame.
type scale struct {
	x, y float64
}

// ToTensor resizes frame to a size x size square with bilinear filtering
// and returns it as a normalised 1x3xHxW float32 tensor in planar RGB.
func ToTensor(frame capture.Frame, size int) ([]float32, scale) {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	src := frame.Image()
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		out[i] = float32(dst.Pix[i*4]) / 255
		out[plane+i] = float32(dst.Pix[i*4+1]) / 255
		out[2*plane+i] = float32(dst.Pix[i*4+2]) / 255
	}

	return out, scale{
		x: float64(frame.Width) / float64(size),
		y: float64(frame.Height) / float64(size),
	}
}
