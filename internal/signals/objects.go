package signals

import (
	"context"
	"math"

	"proctor/internal/capture"
)

// COCO labels that contribute to the verdict.
const (
	LabelPerson    = "person"
	LabelBook      = "book"
	LabelCellPhone = "cell phone"
)

// Box is an axis-aligned bounding box in pixels.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area, zero for inverted boxes.
func (b Box) Area() float64 {
	return math.Max(0, b.X2-b.X1) * math.Max(0, b.Y2-b.Y1)
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	inter := Box{
		X1: math.Max(b.X1, o.X1),
		Y1: math.Max(b.Y1, o.Y1),
		X2: math.Min(b.X2, o.X2),
		Y2: math.Min(b.Y2, o.Y2),
	}.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one labelled object found in a frame.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ObjectDetector finds labelled objects in a frame.
type ObjectDetector interface {
	Detect(ctx context.Context, frame capture.Frame) ([]Detection, error)
}

// ObjectSummary is what the verdict needs from a detection pass.
type ObjectSummary struct {
	Persons int  `json:"persons"`
	Book    bool `json:"book"`
	Phone   bool `json:"phone"`
}

// MultiplePersons reports more than one person in view.
func (s ObjectSummary) MultiplePersons() bool {
	return s.Persons > 1
}

// Summarize counts persons and notes books and phones among detections at
// or above minConfidence.
func Summarize(dets []Detection, minConfidence float64) ObjectSummary {
	var s ObjectSummary
	for _, d := range dets {
		if d.Confidence < minConfidence {
			continue
		}
		switch d.Label {
		case LabelPerson:
			s.Persons++
		case LabelBook:
			s.Book = true
		case LabelCellPhone:
			s.Phone = true
		}
	}
	return s
}
