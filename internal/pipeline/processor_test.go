package pipeline

import (
	"context"
	"errors"
	"image/color"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proctor/internal/capture"
	"proctor/internal/config"
	"proctor/internal/recorder"
	"proctor/internal/signals"
	"proctor/pkg/types"
)

type fakeLandmarks struct {
	face *signals.FaceLandmarks
	err  error
}

func (f *fakeLandmarks) Landmarks(ctx context.Context, frame capture.Frame) (*signals.FaceLandmarks, error) {
	return f.face, f.err
}

type fakeObjects struct {
	calls atomic.Int32
	dets  []signals.Detection
	err   error
}

func (f *fakeObjects) Detect(ctx context.Context, frame capture.Frame) ([]signals.Detection, error) {
	f.calls.Add(1)
	return f.dets, f.err
}

type fakeLiveness struct {
	calls atomic.Int32
	label string
}

func (f *fakeLiveness) Classify(ctx context.Context, frame capture.Frame) (signals.Liveness, error) {
	f.calls.Add(1)
	return signals.Liveness{Label: f.label, Score: 0.9}, nil
}

type fixedSound bool

func (s fixedSound) SoundDetected() bool { return bool(s) }

type collectSink struct {
	mu    sync.Mutex
	clips []recorder.Clip
}

func (c *collectSink) Submit(clip recorder.Clip) error {
	c.mu.Lock()
	c.clips = append(c.clips, clip)
	c.mu.Unlock()
	return nil
}

func tuning() config.Tuning {
	return config.DefaultConfig().Tuning()
}

var start = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func run(p *Processor, frames int) []Result {
	out := make([]Result, 0, frames)
	for i := 0; i < frames; i++ {
		elapsed := time.Duration(i) * 33 * time.Millisecond
		f := capture.Solid(8, 6, color.RGBA{A: 255}, uint64(i+1), start.Add(elapsed))
		out = append(out, p.Process(context.Background(), f, elapsed, start.Add(elapsed)))
	}
	return out
}

func centredFace() *signals.FaceLandmarks {
	pts := make([]signals.Point, 478)
	for i := range pts {
		pts[i] = signals.Point{X: 0.5, Y: 0.6}
	}
	pts[signals.RightEyeOuter] = signals.Point{X: 0.30, Y: 0.40}
	pts[signals.RightEyeInner] = signals.Point{X: 0.40, Y: 0.40}
	pts[signals.LeftEyeInner] = signals.Point{X: 0.60, Y: 0.40}
	pts[signals.LeftEyeOuter] = signals.Point{X: 0.70, Y: 0.40}
	for _, i := range signals.RightIris {
		pts[i] = signals.Point{X: 0.35, Y: 0.40}
	}
	for _, i := range signals.LeftIris {
		pts[i] = signals.Point{X: 0.65, Y: 0.40}
	}
	return &signals.FaceLandmarks{Points: pts}
}

func TestProcessor_NoDetectors(t *testing.T) {
	p := New(Detectors{}, nil, nil, tuning())
	for _, r := range run(p, 5) {
		if r.Signals.Count() != 0 || r.Verdict.Cheating || r.Majority {
			t.Fatalf("frame %d: %+v", r.Index, r)
		}
	}
	if p.Frames() != 5 {
		t.Errorf("Frames = %d", p.Frames())
	}
}

func TestProcessor_NoFaceAloneIsNotCheating(t *testing.T) {
	p := New(Detectors{Landmarks: &fakeLandmarks{}}, fixedSound(false), nil, tuning())
	r := run(p, 1)[0]
	if !r.Signals.NoFace || r.Signals.Count() != 1 {
		t.Errorf("signals = %+v", r.Signals)
	}
	if r.Verdict.Cheating {
		t.Error("one flag must not be a cheating verdict")
	}
}

func TestProcessor_TwoFlagsRecord(t *testing.T) {
	sink := &collectSink{}
	rec := recorder.New("s1", "alice", recorder.Config{MinDuration: 700 * time.Millisecond}, sink)
	p := New(Detectors{Landmarks: &fakeLandmarks{}}, fixedSound(true), rec, tuning())

	results := run(p, 30)
	last := results[len(results)-1]
	if !last.Verdict.Cheating || !last.Majority {
		t.Fatalf("last = %+v", last)
	}
	if rec.State() != recorder.StateRecording || rec.Buffered() != 30 {
		t.Errorf("recorder state %s buffered %d", rec.State(), rec.Buffered())
	}

	if !p.Close(start.Add(time.Second)) {
		t.Fatal("forced close should save the open streak")
	}
	if len(sink.clips) != 1 || !sink.clips[0].Forced {
		t.Fatalf("clips = %d", len(sink.clips))
	}
	flags := sink.clips[0].Flags
	if len(flags) != 2 || flags[0] != types.FlagNoFace || flags[1] != types.FlagSound {
		t.Errorf("flags = %v", flags)
	}
}

func TestProcessor_FacePresent(t *testing.T) {
	p := New(Detectors{Landmarks: &fakeLandmarks{face: centredFace()}}, nil, nil, tuning())
	r := run(p, 1)[0]
	if !r.Face || r.Signals.NoFace {
		t.Fatalf("face should be present: %+v", r)
	}
	if r.Gaze == nil || r.Gaze.Direction != signals.DirectionCenter || r.Signals.EyeMovement {
		t.Errorf("gaze = %+v", r.Gaze)
	}
}

func TestProcessor_ObjectCadenceIsSticky(t *testing.T) {
	objects := &fakeObjects{dets: []signals.Detection{{Label: signals.LabelCellPhone, Confidence: 0.9}}}
	p := New(Detectors{Objects: objects}, nil, nil, tuning())

	results := run(p, 25)
	if objects.calls.Load() != 3 {
		t.Errorf("detector ran %d times over 25 frames, want 3", objects.calls.Load())
	}
	for _, r := range results {
		if !r.Signals.Phone {
			t.Fatalf("phone flag lost at frame %d", r.Index)
		}
	}
	if results[0].Detections == nil || results[1].Detections != nil {
		t.Error("detections should only be reported on sampled frames")
	}
}

func TestProcessor_LivenessCadence(t *testing.T) {
	live := &fakeLiveness{label: "fake"}
	p := New(Detectors{Liveness: live}, nil, nil, tuning())

	results := run(p, 31)
	if live.calls.Load() != 1 {
		t.Errorf("liveness ran %d times over 31 frames, want 1", live.calls.Load())
	}
	if results[28].Signals.Spoofing {
		t.Error("spoofing should not be set before the first sample")
	}
	if !results[29].Signals.Spoofing || !results[30].Signals.Spoofing {
		t.Error("spoofing should be set from the 30th frame on")
	}
}

func TestProcessor_FailingExtractorIsDisabled(t *testing.T) {
	tn := tuning()
	tn.ObjectEvery = 1
	objects := &fakeObjects{err: errors.New("session crashed")}
	p := New(Detectors{Objects: objects}, nil, nil, tn)

	results := run(p, 10)
	if objects.calls.Load() != int32(tn.MaxExtractorFailures) {
		t.Errorf("detector called %d times, want %d", objects.calls.Load(), tn.MaxExtractorFailures)
	}
	for _, r := range results {
		if r.Signals.Count() != 0 {
			t.Fatalf("failed extractor contributed a signal at frame %d", r.Index)
		}
	}
}

func TestProcessor_LandmarkErrorSkipsFaceSignals(t *testing.T) {
	p := New(Detectors{Landmarks: &fakeLandmarks{err: errors.New("timeout")}}, nil, nil, tuning())
	r := run(p, 1)[0]
	if r.Signals.NoFace || r.Face {
		t.Error("an extractor error is not the same as no face")
	}
}

func TestProcessor_ApplyChangesThreshold(t *testing.T) {
	p := New(Detectors{Landmarks: &fakeLandmarks{}}, fixedSound(true), nil, tuning())
	if !run(p, 1)[0].Verdict.Cheating {
		t.Fatal("two flags should be cheating at threshold 2")
	}

	tn := tuning()
	tn.VoteThreshold = 3
	p.Apply(tn)
	if run(p, 1)[0].Verdict.Cheating {
		t.Error("two flags should not be cheating at threshold 3")
	}
}

type panickingObjects struct {
	calls atomic.Int32
}

func (p *panickingObjects) Detect(ctx context.Context, frame capture.Frame) ([]signals.Detection, error) {
	p.calls.Add(1)
	var boxes []signals.Detection
	return []signals.Detection{boxes[3]}, nil
}

func TestProcessor_PanickingExtractorCostsOnlyTheFrame(t *testing.T) {
	tn := tuning()
	tn.ObjectEvery = 1
	objects := &panickingObjects{}
	p := New(Detectors{Landmarks: &fakeLandmarks{}, Objects: objects}, fixedSound(true), nil, tn)

	results := run(p, 10)
	if len(results) != 10 || p.Frames() != 10 {
		t.Fatalf("processed %d frames, want 10", p.Frames())
	}
	if objects.calls.Load() != int32(tn.MaxExtractorFailures) {
		t.Errorf("detector called %d times, want %d before being disabled", objects.calls.Load(), tn.MaxExtractorFailures)
	}
	for _, r := range results {
		if r.Signals.Book || r.Signals.Phone || r.Signals.MultiplePersons {
			t.Fatalf("panicking detector contributed a signal at frame %d", r.Index)
		}
		if !r.Signals.NoFace || !r.Signals.Sound || !r.Verdict.Cheating {
			t.Fatalf("other extractors must keep working, frame %d: %+v", r.Index, r.Signals)
		}
	}
}

// turnedFace builds a face mesh for a head rotated by yawDeg, projected
// through the same pinhole camera the pose solver assumes. offCentre puts
// both irises next to the image-right eye corners.
func turnedFace(yawDeg float64, width, height int, offCentre bool) *signals.FaceLandmarks {
	model := [6][3]float64{
		{-225, -170, 135}, {225, -170, 135}, {0, 0, 0},
		{-150, 150, 125}, {150, 150, 125}, {0, 330, 65},
	}
	indices := [6]int{signals.RightEyeOuter, signals.LeftEyeOuter, signals.NoseTip, signals.MouthRight, signals.MouthLeft, signals.Chin}

	yaw := yawDeg * math.Pi / 180
	f, cx, cy := float64(width), float64(width)/2, float64(height)/2
	pts := make([]signals.Point, 478)
	for i, m := range model {
		x := math.Cos(yaw)*m[0] + math.Sin(yaw)*m[2]
		y := m[1]
		z := -math.Sin(yaw)*m[0] + math.Cos(yaw)*m[2] + 2000
		pts[indices[i]] = signals.Point{X: (f*x/z + cx) / f, Y: (f*y/z + cy) / float64(height)}
	}

	lerp := func(a, b signals.Point, t float64) signals.Point {
		return signals.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
	}
	rightOuter, leftOuter := pts[signals.RightEyeOuter], pts[signals.LeftEyeOuter]
	rightInner := lerp(rightOuter, leftOuter, 0.3)
	leftInner := lerp(leftOuter, rightOuter, 0.3)
	pts[signals.RightEyeInner] = rightInner
	pts[signals.LeftEyeInner] = leftInner

	irisAt := 0.5
	if offCentre {
		irisAt = 0.1
	}
	for _, i := range signals.RightIris {
		pts[i] = lerp(rightOuter, rightInner, irisAt)
	}
	for _, i := range signals.LeftIris {
		pts[i] = lerp(leftInner, leftOuter, irisAt)
	}
	return &signals.FaceLandmarks{Points: pts}
}

// Looking aside with the head turned away is two flags, which is enough
// for a cheating verdict and a clip tagged with both
func TestProcessor_GazeAndHeadTurnRecordClip(t *testing.T) {
	const w, h = 640, 480
	sink := &collectSink{}
	rec := recorder.New("s1", "alice", recorder.Config{MinDuration: 700 * time.Millisecond}, sink)
	landmarks := &fakeLandmarks{face: turnedFace(35, w, h, true)}
	p := New(Detectors{Landmarks: landmarks}, fixedSound(false), rec, tuning())

	step := 50 * time.Millisecond
	process := func(i int) Result {
		elapsed := time.Duration(i) * step
		f := capture.Solid(w, h, color.RGBA{A: 255}, uint64(i+1), start.Add(elapsed))
		return p.Process(context.Background(), f, elapsed, start.Add(elapsed))
	}

	for i := 0; i < 20; i++ {
		r := process(i)
		if !r.Signals.EyeMovement || !r.Signals.HeadMovement || r.Signals.Count() != 2 {
			t.Fatalf("frame %d signals = %+v gaze %+v pose %+v", i, r.Signals, r.Gaze, r.Pose)
		}
		if !r.Verdict.Cheating {
			t.Fatalf("frame %d should be cheating", i)
		}
	}

	landmarks.face = turnedFace(0, w, h, false)
	if r := process(20); r.Verdict.Cheating || r.Signals.Count() != 0 {
		t.Fatalf("frontal centred face should be clean: %+v", r.Signals)
	}

	if len(sink.clips) != 1 {
		t.Fatalf("got %d clips, want 1", len(sink.clips))
	}
	clip := sink.clips[0]
	if clip.Forced || len(clip.Frames) != 20 {
		t.Errorf("clip frames %d forced %v", len(clip.Frames), clip.Forced)
	}
	want := []types.Flag{types.FlagEyeMovement, types.FlagHeadMovement}
	if len(clip.Flags) != 2 || clip.Flags[0] != want[0] || clip.Flags[1] != want[1] {
		t.Errorf("flags = %v, want %v", clip.Flags, want)
	}
	name := recorder.ClipName("alice", clip.StartedAt, clip.Duration, clip.Flags, ".mp4")
	if !strings.HasSuffix(name, "_1s_eye_movement_head_movement.mp4") {
		t.Errorf("clip name = %s", name)
	}
}
