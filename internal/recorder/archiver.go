package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"proctor/internal/capture"
	"proctor/pkg/types"
)

// ErrArchiverClosed is returned by Submit after Close.
var ErrArchiverClosed = errors.New("archiver is closed")

// Encoder writes a frame sequence to a playable container.
type Encoder interface {
	Encode(ctx context.Context, path string, frames []capture.Frame, fps int) error
}

// SavedFunc is called after a clip file is written.
type SavedFunc func(rec types.ClipRecord)

// ArchiverConfig locates and paces the written clips.
type ArchiverConfig struct {
	Directory     string
	Extension     string
	FPS           int
	EncodeTimeout time.Duration
}

type archiveJob struct {
	clip    Clip
	barrier chan struct{}
}

// Archiver encodes clips on a single writer goroutine so that file writes
// never run on the frame loop and never overlap each other.
type Archiver struct {
	cfg     ArchiverConfig
	encoder Encoder
	now     func() time.Time

	jobs   chan archiveJob
	wg     sync.WaitGroup
	closed bool
	mu     sync.RWMutex

	hooksMu sync.RWMutex
	hooks   []SavedFunc
}

// NewArchiver starts the writer goroutine.
func NewArchiver(cfg ArchiverConfig, encoder Encoder) *Archiver {
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = time.Minute
	}
	a := &Archiver{
		cfg:     cfg,
		encoder: encoder,
		now:     time.Now,
		jobs:    make(chan archiveJob, 16),
	}

	a.wg.Add(1)
	go a.writeLoop()
	return a
}

// OnSaved registers a hook run on the writer goroutine after each save.
func (a *Archiver) OnSaved(fn SavedFunc) {
	a.hooksMu.Lock()
	a.hooks = append(a.hooks, fn)
	a.hooksMu.Unlock()
}

// Submit queues a clip. It blocks while the queue is full.
func (a *Archiver) Submit(clip Clip) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiverClosed
	}
	a.jobs <- archiveJob{clip: clip}
	return nil
}

// Flush waits until every clip submitted before the call is written.
func (a *Archiver) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil
	}
	a.jobs <- archiveJob{barrier: barrier}
	a.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes the remaining queue and stops the writer.
func (a *Archiver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	log.Println("[recorder] archiver stopped")
	return nil
}

func (a *Archiver) writeLoop() {
	defer a.wg.Done()

	for job := range a.jobs {
		if job.barrier != nil {
			close(job.barrier)
			continue
		}
		rec, err := a.write(job.clip)
		if err != nil {
			log.Printf("[recorder] failed to save clip user=%s frames=%d: %v",
				job.clip.Username, len(job.clip.Frames), err)
			continue
		}

		a.hooksMu.RLock()
		hooks := append([]SavedFunc(nil), a.hooks...)
		a.hooksMu.RUnlock()
		for _, fn := range hooks {
			fn(rec)
		}
	}
}

func (a *Archiver) write(clip Clip) (types.ClipRecord, error) {
	if err := os.MkdirAll(a.cfg.Directory, 0755); err != nil {
		return types.ClipRecord{}, fmt.Errorf("failed to create clip directory: %w", err)
	}

	// Clip names carry second resolution; step forward past an existing file.
	at := a.now()
	var name, path string
	for i := 0; i < 60; i++ {
		name = ClipName(clip.Username, at, clip.Duration, clip.Flags, a.cfg.Extension)
		path = filepath.Join(a.cfg.Directory, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		at = at.Add(time.Second)
	}

	partial := path + ".part"
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.EncodeTimeout)
	defer cancel()

	if err := a.encoder.Encode(ctx, partial, clip.Frames, a.cfg.FPS); err != nil {
		_ = os.Remove(partial)
		return types.ClipRecord{}, fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return types.ClipRecord{}, fmt.Errorf("finalise %s: %w", name, err)
	}

	log.Printf("[recorder] saved clip file=%s duration=%.2fs frames=%d forced=%t",
		name, clip.Duration.Seconds(), len(clip.Frames), clip.Forced)

	return types.ClipRecord{
		ID:              uuid.New().String(),
		SessionID:       clip.SessionID,
		Username:        clip.Username,
		Filename:        name,
		Path:            path,
		DurationSeconds: clip.Duration.Seconds(),
		Frames:          len(clip.Frames),
		Flags:           clip.Flags,
		Forced:          clip.Forced,
		CreatedAt:       at,
	}, nil
}
