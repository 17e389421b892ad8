// Package session owns the lifecycle of the single active proctoring
// session: device acquisition, the frame loop, expiry and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"proctor/internal/capture"
	"proctor/internal/config"
	"proctor/internal/livefeed"
	"proctor/internal/pipeline"
	"proctor/internal/recorder"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// Start/Stop status values reported to callers
const (
	StatusActive        = "active"
	StatusAlreadyActive = "already_active"
	StatusInactive      = "inactive"
)

// AudioMonitor is the microphone side of a session.
type AudioMonitor interface {
	Start(ctx context.Context) error
	Stop() error
	SoundDetected() bool
	Running() bool
	SetThreshold(v float64)
}

// ClipSink accepts finished clips and can wait until they are written.
type ClipSink interface {
	recorder.Sink
	Flush(ctx context.Context) error
}

// Dependencies are the collaborators of a Controller. Audio, Store,
// Events and Renderer may be nil.
type Dependencies struct {
	Camera    capture.CameraOpener
	Audio     AudioMonitor
	Detectors pipeline.Detectors
	Clips     ClipSink
	Store     interfaces.SessionStore
	Events    interfaces.EventPublisher
	Tuning    *config.TuningStore
	Renderer  *livefeed.Renderer
}

// Options tune controller behaviour that is not hot-reloadable.
type Options struct {
	RecordingDirectory string
	FeedBuffer         int
	FlushTimeout       time.Duration
	StopTimeout        time.Duration
	Now                func() time.Time
}

// Status is the answer to a status query.
type Status struct {
	Active        bool   `json:"active"`
	TimeRemaining int    `json:"time_remaining"`
	Username      string `json:"username,omitempty"`
}

// StartResult describes the session after a start request.
type StartResult struct {
	Status        string
	Session       types.Session
	TimeRemaining int
}

// StopResult describes the outcome of a stop request. Session is set
// when a session was actually ended by the call.
type StopResult struct {
	Status    string
	WasActive bool
	Session   *types.Session
}

// run is one active session and its frame loop.
type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	camera    capture.Camera
	processor *pipeline.Processor
	feed      *livefeed.Broadcaster
	tuning    config.Tuning
	majority  bool
	finished  chan struct{}

	session types.Session // fixed at start

	mu     sync.Mutex
	reason string
	ended  *types.Session
}

// requestStop records why the session ends (first reason wins) and
// cancels the frame loop.
func (r *run) requestStop(reason string) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *run) endReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		return types.EndReasonStopped
	}
	return r.reason
}

// end records the terminal state and returns the ended session
func (r *run) end(at time.Time, reason string) types.Session {
	s := r.session
	s.EndTime = &at
	s.Status = types.SessionStatusEnded
	s.EndReason = reason

	r.mu.Lock()
	r.ended = &s
	r.mu.Unlock()
	return s
}

// snapshot returns the ended session, or the running one before teardown
func (r *run) snapshot() types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended != nil {
		return *r.ended
	}
	return r.session
}

// Controller implements the Inactive -> Active -> Inactive session state
// machine. At most one session is active at a time.
type Controller struct {
	deps   Dependencies
	opts   Options
	series *timeSeries

	opMu   sync.Mutex // serialises Start and Stop
	mu     sync.Mutex
	active *run
	last   *run
}

// NewController creates an inactive controller.
func NewController(deps Dependencies, opts Options) *Controller {
	if deps.Clips == nil {
		deps.Clips = discardSink{}
	}
	if opts.FeedBuffer <= 0 {
		opts.FeedBuffer = 2
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		deps:   deps,
		opts:   opts,
		series: newTimeSeries(),
	}
}

func (c *Controller) now() time.Time {
	return c.opts.Now()
}

// activeLocked returns the active run, retiring it first if its budget is
// used up. Callers hold c.mu.
func (c *Controller) activeLocked(now time.Time) *run {
	r := c.active
	if r == nil {
		return nil
	}
	if r.session.Expired(now) {
		c.active = nil
		r.requestStop(types.EndReasonExpired)
		return nil
	}
	return r
}

func remainingSeconds(s types.Session, now time.Time) int {
	return int(s.Remaining(now) / time.Second)
}

// Start begins proctoring username for budget. A non-positive budget uses
// the configured default. Starting while a session is active returns the
// active session with StatusAlreadyActive.
func (c *Controller) Start(ctx context.Context, username string, budget time.Duration) (StartResult, error) {
	if !types.IsValidUsername(username) {
		return StartResult{}, ErrInvalidUsername
	}
	tuning := c.deps.Tuning.Load()
	if budget <= 0 {
		budget = tuning.DefaultBudget
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	now := c.now()
	c.mu.Lock()
	if r := c.activeLocked(now); r != nil {
		c.mu.Unlock()
		return StartResult{
			Status:        StatusAlreadyActive,
			Session:       r.session,
			TimeRemaining: remainingSeconds(r.session, now),
		}, nil
	}
	prev := c.last
	c.mu.Unlock()

	// FUNCTIONAL DISCOVERY: The previous session may still be releasing the
	// camera after a lazy expiry
	if prev != nil {
		if err := c.waitFinished(ctx, prev); err != nil {
			return StartResult{}, err
		}
	}

	camera, err := c.deps.Camera(ctx)
	if err != nil {
		return StartResult{}, deviceError("camera", err)
	}
	if c.deps.Audio != nil {
		c.deps.Audio.SetThreshold(tuning.AudioThreshold)
		if err := c.deps.Audio.Start(ctx); err != nil {
			_ = camera.Close()
			return StartResult{}, deviceError("microphone", err)
		}
	}

	session := types.Session{
		ID:        uuid.New().String(),
		Username:  username,
		StartTime: c.now(),
		Budget:    budget,
		Status:    types.SessionStatusActive,
	}

	rec := recorder.New(session.ID, username, recorder.Config{
		MinDuration: tuning.MinClipDuration,
		MaxFrames:   tuning.MaxBufferedFrames,
	}, c.deps.Clips)

	var sound pipeline.SoundSource
	if c.deps.Audio != nil {
		sound = c.deps.Audio
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:       runCtx,
		cancel:    cancel,
		camera:    camera,
		processor: pipeline.New(c.deps.Detectors, sound, rec, tuning),
		feed:      livefeed.NewBroadcaster(c.opts.FeedBuffer),
		tuning:    tuning,
		finished:  make(chan struct{}),
		session:   session,
	}

	c.series.ensure(username)
	if c.deps.Store != nil {
		if err := c.deps.Store.RecordSessionStart(ctx, &session); err != nil {
			log.Printf("Failed to record session start: %v", err)
		}
	}

	log.Printf("Started session: id=%s user=%s budget=%s", session.ID, username, budget)
	c.publish(types.EventSessionStarted, session, map[string]interface{}{
		"budget_seconds": session.BudgetSeconds(),
	})

	c.mu.Lock()
	c.active = r
	c.last = r
	c.mu.Unlock()

	go c.loop(r)

	return StartResult{
		Status:        StatusActive,
		Session:       session,
		TimeRemaining: session.BudgetSeconds(),
	}, nil
}

func deviceError(device string, err error) error {
	if errors.Is(err, capture.ErrDeviceUnavailable) {
		return fmt.Errorf("failed to open %s: %w", device, err)
	}
	return fmt.Errorf("failed to open %s: %w: %v", device, capture.ErrDeviceUnavailable, err)
}

// Stop ends the active session and waits for its teardown: forced clip
// flush, device release and archiver flush. Stopping while inactive is a
// no-op.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	return c.stop(ctx, types.EndReasonStopped)
}

// Shutdown ends the active session because the process is exiting.
func (c *Controller) Shutdown(ctx context.Context) error {
	_, err := c.stop(ctx, types.EndReasonShutdown)
	return err
}

func (c *Controller) stop(ctx context.Context, reason string) (StopResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	r := c.active
	c.active = nil
	last := c.last
	c.mu.Unlock()

	if r == nil {
		if last != nil {
			_ = c.waitFinished(ctx, last)
		}
		return StopResult{Status: StatusInactive}, nil
	}

	r.requestStop(reason)
	if err := c.waitFinished(ctx, r); err != nil {
		return StopResult{Status: StatusInactive, WasActive: true}, err
	}
	ended := r.snapshot()
	return StopResult{Status: StatusInactive, WasActive: true, Session: &ended}, nil
}

func (c *Controller) waitFinished(ctx context.Context, r *run) error {
	timer := time.NewTimer(c.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Status reports whether a session is active and its remaining whole
// seconds. A session past its budget reads as inactive even before the
// frame loop notices.
func (c *Controller) Status() Status {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.activeLocked(now)
	if r == nil {
		return Status{}
	}
	return Status{
		Active:        true,
		TimeRemaining: remainingSeconds(r.session, now),
		Username:      r.session.Username,
	}
}

// Current returns the active session.
func (c *Controller) Current() (types.Session, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.activeLocked(now)
	if r == nil {
		return types.Session{}, false
	}
	return r.session, true
}

// Done returns a channel closed when the most recent session has fully
// shut down. With no session ever started it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.last.finished
}

// UserData returns the majority time series of username.
func (c *Controller) UserData(username string) []types.Sample {
	return c.series.snapshot(username)
}

// Statistics summarises the time series of username.
func (c *Controller) Statistics(username string) Stats {
	st := Summarize(username, c.series.snapshot(username))
	st.ExamCompleted = !c.Status().Active
	return st
}

// Subscribe attaches a viewer to the live feed of username. The returned
// func detaches it.
func (c *Controller) Subscribe(username string) (*livefeed.Subscription, func(), error) {
	now := c.now()
	c.mu.Lock()
	r := c.activeLocked(now)
	c.mu.Unlock()

	if r == nil {
		return nil, nil, ErrSessionNotActive
	}
	if r.session.Username != username {
		return nil, nil, fmt.Errorf("%w: feed is active for %q", ErrUserMismatch, r.session.Username)
	}

	id := uuid.New().String()
	sub, err := r.feed.Subscribe(id)
	if err != nil {
		return nil, nil, ErrSessionNotActive
	}
	return sub, func() { r.feed.Unsubscribe(id) }, nil
}

// History lists stored sessions of username, newest first.
func (c *Controller) History(ctx context.Context, username string, limit int) ([]*types.Session, error) {
	if c.deps.Store == nil {
		return nil, nil
	}
	return c.deps.Store.ListSessions(ctx, username, limit)
}

// FocusLost records that the examinee's browser lost focus. The event is
// tied to the active session when it belongs to username.
func (c *Controller) FocusLost(username string, details map[string]interface{}) error {
	if !types.IsValidUsername(username) {
		return ErrInvalidUsername
	}
	session := types.Session{Username: username}
	if current, ok := c.Current(); ok && current.Username == username {
		session = current
	}
	log.Printf("Focus lost: user=%s details=%v", username, details)
	return c.emit(types.EventFocusLost, session, details)
}

func (c *Controller) publish(eventType string, session types.Session, payload map[string]interface{}) {
	if err := c.emit(eventType, session, payload); err != nil {
		log.Printf("Failed to publish %s event: %v", eventType, err)
	}
}

func (c *Controller) emit(eventType string, session types.Session, payload map[string]interface{}) error {
	if c.deps.Events == nil {
		return nil
	}
	return c.deps.Events.Publish(types.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: session.ID,
		Username:  session.Username,
		Payload:   payload,
		Timestamp: c.now(),
	})
}

type discardSink struct{}

func (discardSink) Submit(recorder.Clip) error      { return nil }
func (discardSink) Flush(ctx context.Context) error { return nil }
