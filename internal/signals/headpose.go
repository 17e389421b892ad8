package signals

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrPoseDegenerate is returned when the landmark layout cannot support a
// pose solve or the solver diverges.
var ErrPoseDegenerate = errors.New("head pose solve is degenerate")

// Pose holds head rotation in degrees.
type Pose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// poseModel is a generic adult face in camera-aligned units (x right, y
// down, z away from the camera) with the nose tip at the origin. Row order
// matches poseIndices.
var poseModel = [6][3]float64{
	{-225, -170, 135}, // right eye outer corner
	{225, -170, 135},  // left eye outer corner
	{0, 0, 0},         // nose tip
	{-150, 150, 125},  // mouth right corner
	{150, 150, 125},   // mouth left corner
	{0, 330, 65},      // chin
}

var poseIndices = [6]int{RightEyeOuter, LeftEyeOuter, NoseTip, MouthRight, MouthLeft, Chin}

const modelEyeSpan = 450.0

// HeadPoseEstimator solves a perspective-n-point problem for six mesh
// points against poseModel with a pinhole camera whose focal length is the
// image width and whose principal point is the image centre.
type HeadPoseEstimator struct {
	YawLimit   float64
	PitchLimit float64
	// MaxIterations bounds the Levenberg-Marquardt loop.
	MaxIterations int
}

// NewHeadPoseEstimator returns an estimator flagging |yaw| > yawLimit or
// |pitch| > pitchLimit.
func NewHeadPoseEstimator(yawLimit, pitchLimit float64) HeadPoseEstimator {
	return HeadPoseEstimator{YawLimit: yawLimit, PitchLimit: pitchLimit, MaxIterations: 100}
}

// Moved reports whether the pose exceeds either limit.
func (h HeadPoseEstimator) Moved(p Pose) bool {
	return math.Abs(p.Yaw) > h.YawLimit || math.Abs(p.Pitch) > h.PitchLimit
}

// Estimate returns the head pose for the face mesh in a width x height frame.
func (h HeadPoseEstimator) Estimate(lm *FaceLandmarks, width, height int) (Pose, error) {
	if width <= 0 || height <= 0 {
		return Pose{}, ErrPoseDegenerate
	}

	var image [6][2]float64
	for i, idx := range poseIndices {
		x, y, ok := lm.Pixel(idx, width, height)
		if !ok {
			return Pose{}, ErrMissingLandmarks
		}
		image[i] = [2]float64{x, y}
	}

	eyeSpan := math.Hypot(image[1][0]-image[0][0], image[1][1]-image[0][1])
	if eyeSpan < 1 {
		return Pose{}, ErrPoseDegenerate
	}

	model := poseModel
	// Mirrored frames swap the eye corners; mirror the model to keep a proper rotation.
	if image[0][0] > image[1][0] {
		for i := range model {
			model[i][0] = -model[i][0]
		}
	}

	cam := pinhole{f: float64(width), cx: float64(width) / 2, cy: float64(height) / 2}

	// Initial guess: frontal face at the depth implied by the eye span.
	z := cam.f * modelEyeSpan / eyeSpan
	params := [6]float64{
		0, 0, 0,
		(image[2][0] - cam.cx) * z / cam.f,
		(image[2][1] - cam.cy) * z / cam.f,
		z,
	}

	iterations := h.MaxIterations
	if iterations <= 0 {
		iterations = 100
	}
	params, err := solvePnP(model, image, cam, params, iterations)
	if err != nil {
		return Pose{}, err
	}

	r := rodrigues(params[0], params[1], params[2])
	return eulerDegrees(r), nil
}

type pinhole struct {
	f, cx, cy float64
}

func (c pinhole) project(r [3][3]float64, t [3]float64, p [3]float64) (u, v, depth float64) {
	x := r[0][0]*p[0] + r[0][1]*p[1] + r[0][2]*p[2] + t[0]
	y := r[1][0]*p[0] + r[1][1]*p[1] + r[1][2]*p[2] + t[1]
	z := r[2][0]*p[0] + r[2][1]*p[1] + r[2][2]*p[2] + t[2]
	return c.f*x/z + c.cx, c.f*y/z + c.cy, z
}

func residuals(model [6][3]float64, image [6][2]float64, cam pinhole, p [6]float64) ([]float64, bool) {
	r := rodrigues(p[0], p[1], p[2])
	t := [3]float64{p[3], p[4], p[5]}
	out := make([]float64, 12)
	for i := range model {
		u, v, depth := cam.project(r, t, model[i])
		if depth <= 0 {
			return nil, false
		}
		out[2*i] = u - image[i][0]
		out[2*i+1] = v - image[i][1]
	}
	return out, true
}

func sumSquares(r []float64) float64 {
	s := 0.0
	for _, v := range r {
		s += v * v
	}
	return s
}

// solvePnP minimises reprojection error with Levenberg-Marquardt over a
// rotation vector and translation, using a forward-difference Jacobian.
func solvePnP(model [6][3]float64, image [6][2]float64, cam pinhole, p [6]float64, iterations int) ([6]float64, error) {
	res, ok := residuals(model, image, cam, p)
	if !ok {
		return p, ErrPoseDegenerate
	}
	cost := sumSquares(res)
	lambda := 1e-3

	for iter := 0; iter < iterations; iter++ {
		jac := mat.NewDense(12, 6, nil)
		for j := 0; j < 6; j++ {
			step := 1e-6
			if j >= 3 {
				step = 1e-6 * math.Max(1, math.Abs(p[j]))
			}
			shifted := p
			shifted[j] += step
			rs, ok := residuals(model, image, cam, shifted)
			if !ok {
				return p, ErrPoseDegenerate
			}
			for i := range rs {
				jac.Set(i, j, (rs[i]-res[i])/step)
			}
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), mat.NewVecDense(12, res))

		improved := false
		for attempt := 0; attempt < 10; attempt++ {
			a := mat.DenseCopyOf(&jtj)
			for d := 0; d < 6; d++ {
				a.Set(d, d, a.At(d, d)*(1+lambda))
			}
			var delta mat.VecDense
			if err := delta.SolveVec(a, &jtr); err != nil {
				lambda *= 10
				continue
			}

			var candidate [6]float64
			for d := 0; d < 6; d++ {
				candidate[d] = p[d] - delta.AtVec(d)
			}
			cres, ok := residuals(model, image, cam, candidate)
			if ok {
				if ccost := sumSquares(cres); ccost < cost {
					converged := (cost-ccost)/math.Max(cost, 1e-12) < 1e-10
					p, res, cost = candidate, cres, ccost
					lambda = math.Max(lambda/10, 1e-12)
					improved = true
					if converged {
						return p, nil
					}
					break
				}
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}

	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return p, ErrPoseDegenerate
		}
	}
	return p, nil
}

// rodrigues converts a rotation vector to a rotation matrix.
func rodrigues(rx, ry, rz float64) [3][3]float64 {
	theta := math.Sqrt(rx*rx + ry*ry + rz*rz)
	if theta < 1e-12 {
		return [3][3]float64{{1, -rz, ry}, {rz, 1, -rx}, {-ry, rx, 1}}
	}
	kx, ky, kz := rx/theta, ry/theta, rz/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return [3][3]float64{
		{c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s},
		{ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s},
		{kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v},
	}
}

// eulerDegrees decomposes R = Rz(roll) * Ry(yaw) * Rx(pitch).
func eulerDegrees(r [3][3]float64) Pose {
	pitch := math.Atan2(r[2][1], r[2][2])
	yaw := math.Atan2(-r[2][0], math.Hypot(r[2][1], r[2][2]))
	roll := math.Atan2(r[1][0], r[0][0])
	const deg = 180 / math.Pi
	return Pose{Yaw: yaw * deg, Pitch: pitch * deg, Roll: roll * deg}
}
