// Package pipeline runs one frame through extraction, fusion, smoothing and
// recording in that order.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"proctor/internal/capture"
	"proctor/internal/config"
	"proctor/internal/fusion"
	"proctor/internal/recorder"
	"proctor/internal/signals"
	"proctor/pkg/types"
)

// Detectors are the optional model capabilities. A nil Landmarks disables
// the face signals (gaze, head pose, no face); a nil Objects disables the
// object signals; a nil Liveness means every frame is real.
type Detectors struct {
	Landmarks signals.LandmarkProvider
	Objects   signals.ObjectDetector
	Liveness  signals.LivenessClassifier
}

// SoundSource reports the latest audio verdict.
type SoundSource interface {
	SoundDetected() bool
}

// Result is everything learned from one frame. Detections is set only on
// frames where the object detector ran.
type Result struct {
	Index      int                   `json:"index"`
	Elapsed    time.Duration         `json:"elapsed"`
	Signals    types.SignalSet       `json:"signals"`
	Verdict    types.Verdict         `json:"verdict"`
	Majority   bool                  `json:"majority"`
	Face       bool                  `json:"face"`
	Gaze       *signals.Gaze         `json:"gaze,omitempty"`
	Pose       *signals.Pose         `json:"pose,omitempty"`
	Objects    signals.ObjectSummary `json:"objects"`
	Detections []signals.Detection   `json:"detections,omitempty"`
	Liveness   signals.Liveness      `json:"liveness"`
}

// Processor holds the per-session state of the frame pipeline. Process is
// called from a single goroutine; Apply may be called concurrently.
type Processor struct {
	det      Detectors
	sound    SoundSource
	recorder *recorder.Recorder
	smoother *fusion.Smoother

	mu     sync.RWMutex
	tuning config.Tuning
	gaze   signals.GazeEstimator
	pose   signals.HeadPoseEstimator

	objects  *signals.Sampler[signals.ObjectSummary]
	liveness *signals.Sampler[signals.Liveness]

	landmarkHealth *signals.Health
	objectHealth   *signals.Health
	livenessHealth *signals.Health

	index int
}

// New creates a processor. Detector cadences are fixed for the life of the
// processor; the remaining knobs follow Apply.
func New(det Detectors, sound SoundSource, rec *recorder.Recorder, tuning config.Tuning) *Processor {
	if det.Liveness == nil {
		det.Liveness = signals.AlwaysReal{}
	}
	p := &Processor{
		det:            det,
		sound:          sound,
		recorder:       rec,
		smoother:       fusion.NewSmoother(tuning.SmoothingWindow),
		objects:        signals.NewSampler(tuning.ObjectEvery, 0, signals.ObjectSummary{}),
		liveness:       signals.NewSampler(tuning.LivenessEvery, tuning.LivenessEvery-1, signals.RealLiveness),
		landmarkHealth: signals.NewHealth("landmarks", tuning.MaxExtractorFailures),
		objectHealth:   signals.NewHealth("objects", tuning.MaxExtractorFailures),
		livenessHealth: signals.NewHealth("liveness", tuning.MaxExtractorFailures),
	}
	p.Apply(tuning)
	return p
}

// Apply swaps in new thresholds for subsequent frames.
func (p *Processor) Apply(t config.Tuning) {
	p.mu.Lock()
	p.tuning = t
	p.gaze = signals.NewGazeEstimator(t.GazeLowerBand, t.GazeUpperBand)
	p.pose = signals.NewHeadPoseEstimator(t.YawLimitDegrees, t.PitchLimitDegrees)
	p.mu.Unlock()

	p.smoother.SetWindow(t.SmoothingWindow)
	if p.recorder != nil {
		p.recorder.SetMinDuration(t.MinClipDuration)
	}
}

// Process runs frame through the pipeline. elapsed is the session time of
// the frame and now the wall-clock time used by the recorder.
func (p *Processor) Process(ctx context.Context, frame capture.Frame, elapsed time.Duration, now time.Time) Result {
	p.mu.RLock()
	tuning, gazeEst, poseEst := p.tuning, p.gaze, p.pose
	p.mu.RUnlock()

	idx := p.index
	p.index++
	res := Result{Index: idx, Elapsed: elapsed}

	var (
		face     *signals.FaceLandmarks
		faceOK   bool
		detected []signals.Detection
	)

	var g errgroup.Group
	if p.det.Landmarks != nil && p.landmarkHealth.Enabled() {
		g.Go(func() error {
			var lm *signals.FaceLandmarks
			err := guard(func() (err error) {
				lm, err = p.det.Landmarks.Landmarks(ctx, frame)
				return err
			})
			if err != nil {
				p.landmarkHealth.Failure(err)
				return nil
			}
			p.landmarkHealth.Success()
			face, faceOK = lm, true
			return nil
		})
	}
	if p.det.Objects != nil && p.objects.Due(idx) && p.objectHealth.Enabled() {
		g.Go(func() error {
			var dets []signals.Detection
			err := guard(func() (err error) {
				dets, err = p.det.Objects.Detect(ctx, frame)
				return err
			})
			if err != nil {
				if p.objectHealth.Failure(err) {
					p.objects.Store(idx, signals.ObjectSummary{})
				}
				return nil
			}
			p.objectHealth.Success()
			detected = dets
			p.objects.Store(idx, signals.Summarize(dets, tuning.ObjectConfidence))
			return nil
		})
	}
	if p.liveness.Due(idx) && p.livenessHealth.Enabled() {
		g.Go(func() error {
			var l signals.Liveness
			err := guard(func() (err error) {
				l, err = p.det.Liveness.Classify(ctx, frame)
				return err
			})
			if err != nil {
				if p.livenessHealth.Failure(err) {
					p.liveness.Store(idx, signals.RealLiveness)
				}
				return nil
			}
			p.livenessHealth.Success()
			p.liveness.Store(idx, l)
			return nil
		})
	}
	_ = g.Wait()
	res.Detections = detected

	var set types.SignalSet

	if faceOK {
		if face == nil {
			set.NoFace = true
		} else {
			res.Face = true
			if gz, err := gazeEst.Estimate(face, frame.Width, frame.Height); err == nil {
				res.Gaze = &gz
				set.EyeMovement = gz.OffCenter()
			}
			if pose, err := poseEst.Estimate(face, frame.Width, frame.Height); err == nil {
				res.Pose = &pose
				set.HeadMovement = poseEst.Moved(pose)
			}
		}
	}

	res.Objects = p.objects.Value()
	set.MultiplePersons = res.Objects.MultiplePersons()
	set.Book = res.Objects.Book
	set.Phone = res.Objects.Phone

	res.Liveness = p.liveness.Value()
	set.Spoofing = !res.Liveness.Real()

	if p.sound != nil {
		set.Sound = p.sound.SoundDetected()
	}

	res.Signals = set
	res.Verdict = fusion.Fuse(set, tuning.VoteThreshold)
	res.Majority = p.smoother.Observe(elapsed, res.Verdict.Cheating)
	if p.recorder != nil {
		p.recorder.Observe(now, frame, res.Verdict)
	}
	return res
}

// guard runs one extractor call and turns a panic into an error so a
// misbehaving model only costs the frame.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Close force-flushes any open recording.
func (p *Processor) Close(now time.Time) bool {
	if p.recorder == nil {
		return false
	}
	return p.recorder.Close(now, true)
}

// Frames returns the number of frames processed.
func (p *Processor) Frames() int {
	return p.index
}
