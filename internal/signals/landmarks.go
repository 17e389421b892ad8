// Package signals turns per-frame model outputs into the behavioural flags
// fused by the verdict stage.
package signals

import (
	"context"
	"errors"

	"proctor/internal/capture"
)

// Face mesh indices used by the gaze and head pose estimators.
const (
	RightEyeOuter = 33
	RightEyeInner = 133
	LeftEyeInner  = 362
	LeftEyeOuter  = 263
	NoseTip       = 1
	MouthRight    = 61
	MouthLeft     = 291
	Chin          = 199
)

var (
	RightIris = []int{469, 470, 471, 472}
	LeftIris  = []int{474, 475, 476, 477}
)

// ErrMissingLandmarks is returned when a mesh lacks an index an estimator needs.
var ErrMissingLandmarks = errors.New("face mesh is missing required landmarks")

// Point is one mesh vertex. X and Y are normalised to [0,1] image
// coordinates; Z is relative depth.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FaceLandmarks is a dense face mesh for a single face.
type FaceLandmarks struct {
	Points []Point `json:"points"`
}

// At returns the vertex at index i.
func (f *FaceLandmarks) At(i int) (Point, bool) {
	if f == nil || i < 0 || i >= len(f.Points) {
		return Point{}, false
	}
	return f.Points[i], true
}

// Pixel returns vertex i scaled to a width x height image.
func (f *FaceLandmarks) Pixel(i, width, height int) (x, y float64, ok bool) {
	p, ok := f.At(i)
	if !ok {
		return 0, 0, false
	}
	return p.X * float64(width), p.Y * float64(height), true
}

// Centroid averages the pixel positions of the given indices.
func (f *FaceLandmarks) Centroid(indices []int, width, height int) (x, y float64, ok bool) {
	if len(indices) == 0 {
		return 0, 0, false
	}
	for _, i := range indices {
		px, py, found := f.Pixel(i, width, height)
		if !found {
			return 0, 0, false
		}
		x += px
		y += py
	}
	n := float64(len(indices))
	return x / n, y / n, true
}

// LandmarkProvider locates at most one face in a frame. A nil mesh with a
// nil error means no face was found.
type LandmarkProvider interface {
	Landmarks(ctx context.Context, frame capture.Frame) (*FaceLandmarks, error)
}
