package session

import (
	"context"
	"errors"
	"log"
	"time"

	"proctor/internal/capture"
	"proctor/internal/livefeed"
	"proctor/internal/pipeline"
	"proctor/pkg/types"
)

// loop is the frame loop of one session. It owns the camera and the
// recorder; every exit path ends in finish.
func (c *Controller) loop(r *run) {
	defer c.finish(r)
	defer func() {
		// ARCHITECTURAL DISCOVERY: An open streak is saved regardless of its
		// length so evidence is never lost at a session boundary
		if r.processor.Close(c.now()) {
			log.Printf("[recorder] forced flush of open clip user=%s", r.session.Username)
		}
		if err := r.camera.Close(); err != nil {
			log.Printf("[camera] close failed: %v", err)
		}
	}()

	// TECHNICAL DISCOVERY: Extractors finish the current frame even when a
	// stop arrives mid-frame
	frameCtx := context.WithoutCancel(r.ctx)
	username := r.session.Username

	for {
		if r.ctx.Err() != nil {
			return
		}
		if r.session.Expired(c.now()) {
			r.requestStop(types.EndReasonExpired)
			return
		}

		frame, err := c.readFrame(r)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if errors.Is(err, capture.ErrDeviceClosed) {
				log.Printf("[camera] device lost during session %s: %v", r.session.ID, err)
				r.requestStop(types.EndReasonDevice)
				return
			}
			continue
		}

		now := c.now()
		elapsed := now.Sub(r.session.StartTime)
		if elapsed >= r.session.Budget {
			r.requestStop(types.EndReasonExpired)
			return
		}

		c.applyTuning(r)
		res := r.processor.Process(frameCtx, frame, elapsed, now)
		c.series.append(username, types.Sample{
			ElapsedSeconds:   elapsed.Seconds(),
			MajorityCheating: res.Majority,
		})

		if res.Majority != r.majority {
			r.majority = res.Majority
			c.publish(types.EventMajorityChanged, r.session, map[string]interface{}{
				"majority":        res.Majority,
				"elapsed_seconds": elapsed.Seconds(),
				"flags":           res.Verdict.Flags,
			})
		}

		if c.deps.Renderer != nil && r.feed.Subscribers() > 0 {
			c.render(r, frame, res, now)
		}
	}
}

// readFrame reads one frame with a single re-read attempt
func (c *Controller) readFrame(r *run) (capture.Frame, error) {
	frame, err := r.camera.Read(r.ctx)
	if err == nil && frame.Valid() {
		return frame, nil
	}
	if r.ctx.Err() != nil || errors.Is(err, capture.ErrDeviceClosed) {
		return capture.Frame{}, err
	}

	frame, err = r.camera.Read(r.ctx)
	if err != nil {
		return capture.Frame{}, err
	}
	if !frame.Valid() {
		return capture.Frame{}, capture.ErrNoFrame
	}
	return frame, nil
}

// applyTuning hands a changed tuning snapshot to the processor
func (c *Controller) applyTuning(r *run) {
	t := c.deps.Tuning.Load()
	if t == r.tuning {
		return
	}
	r.tuning = t
	r.processor.Apply(t)
	if c.deps.Audio != nil {
		c.deps.Audio.SetThreshold(t.AudioThreshold)
	}
	log.Printf("Applied tuning to session %s", r.session.ID)
}

func (c *Controller) render(r *run, frame capture.Frame, res pipeline.Result, now time.Time) {
	jpeg, err := c.deps.Renderer.Render(frame, livefeed.Overlay{
		Username:  r.session.Username,
		Remaining: r.session.Remaining(now),
		Result:    res,
	})
	if err != nil {
		log.Printf("[camera] skipped live frame: %v", err)
		return
	}
	r.feed.Publish(livefeed.Frame{JPEG: jpeg, Seq: frame.Seq, Timestamp: now})
}

// finish runs the shutdown sequence after the frame loop has exited
func (c *Controller) finish(r *run) {
	defer close(r.finished)

	reason := r.endReason()

	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	c.mu.Unlock()

	r.feed.Close()

	if c.deps.Audio != nil {
		if err := c.deps.Audio.Stop(); err != nil {
			log.Printf("[audio] stop: %v", err)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), c.opts.FlushTimeout)
	defer cancel()
	if err := c.deps.Clips.Flush(flushCtx); err != nil {
		log.Printf("[recorder] flush on session end: %v", err)
	}

	ended := r.end(c.now(), reason)
	if c.deps.Store != nil {
		if err := c.deps.Store.RecordSessionEnd(context.Background(), &ended); err != nil {
			log.Printf("Failed to record session end: %v", err)
		}
	}

	eventType := types.EventSessionStopped
	if reason == types.EndReasonExpired {
		eventType = types.EventSessionExpired
	}
	duration := ended.EndTime.Sub(ended.StartTime)
	c.publish(eventType, ended, map[string]interface{}{
		"reason":           reason,
		"duration_seconds": duration.Seconds(),
		"frames":           r.processor.Frames(),
	})

	log.Printf("Ended session: id=%s user=%s reason=%s frames=%d", ended.ID, ended.Username, reason, r.processor.Frames())
}
