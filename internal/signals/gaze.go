package signals

import "math"

// Direction is the coarse gaze class.
type Direction string

const (
	DirectionLeft   Direction = "LEFT"
	DirectionCenter Direction = "CENTER"
	DirectionRight  Direction = "RIGHT"
)

// Gaze is the result of one gaze estimate.
type Gaze struct {
	Direction  Direction `json:"direction"`
	Ratio      float64   `json:"ratio"`
	RightRatio float64   `json:"right_ratio"`
	LeftRatio  float64   `json:"left_ratio"`
}

// OffCenter reports whether the examinee is looking away.
func (g Gaze) OffCenter() bool {
	return g.Direction != DirectionCenter
}

// GazeEstimator classifies the iris position between the eye corners.
// Ratios below Lower read as RIGHT, above Upper as LEFT, and the closed
// band between them as CENTER.
type GazeEstimator struct {
	Lower float64
	Upper float64
}

// NewGazeEstimator returns an estimator with the given band.
func NewGazeEstimator(lower, upper float64) GazeEstimator {
	return GazeEstimator{Lower: lower, Upper: upper}
}

// Estimate computes the per-eye ratio of the iris-to-outer-corner distance
// over the eye width, averages both eyes and classifies the result.
func (g GazeEstimator) Estimate(lm *FaceLandmarks, width, height int) (Gaze, error) {
	right, err := eyeRatio(lm, RightIris, RightEyeOuter, RightEyeInner, width, height)
	if err != nil {
		return Gaze{}, err
	}
	left, err := eyeRatio(lm, LeftIris, LeftEyeInner, LeftEyeOuter, width, height)
	if err != nil {
		return Gaze{}, err
	}

	ratio := (right + left) / 2
	return Gaze{
		Direction:  g.Classify(ratio),
		Ratio:      ratio,
		RightRatio: right,
		LeftRatio:  left,
	}, nil
}

// Classify maps a ratio onto a direction.
func (g GazeEstimator) Classify(ratio float64) Direction {
	switch {
	case ratio < g.Lower:
		return DirectionRight
	case ratio <= g.Upper:
		return DirectionCenter
	default:
		return DirectionLeft
	}
}

// eyeRatio measures from the iris centre to the image-right corner of one
// eye. A zero-width eye yields the neutral 0.5.
func eyeRatio(lm *FaceLandmarks, iris []int, rightCorner, leftCorner, width, height int) (float64, error) {
	cx, cy, ok := lm.Centroid(iris, width, height)
	if !ok {
		return 0, ErrMissingLandmarks
	}
	rx, ry, ok := lm.Pixel(rightCorner, width, height)
	if !ok {
		return 0, ErrMissingLandmarks
	}
	lx, ly, ok := lm.Pixel(leftCorner, width, height)
	if !ok {
		return 0, ErrMissingLandmarks
	}

	total := math.Hypot(rx-lx, ry-ly)
	if total == 0 {
		return 0.5, nil
	}
	return math.Hypot(cx-rx, cy-ry) / total, nil
}
