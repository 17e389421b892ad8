package clips

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor prunes the library on a cron schedule.
type Janitor struct {
	lib       *Library
	retention time.Duration
	scheduler *cron.Cron

	mu       sync.Mutex
	onPruned []func(names []string)
}

// NewJanitor validates schedule (standard five-field or @descriptor syntax).
func NewJanitor(lib *Library, schedule string, retention time.Duration) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %v", retention)
	}

	j := &Janitor{
		lib:       lib,
		retention: retention,
		scheduler: cron.New(),
	}
	if _, err := j.scheduler.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// OnPruned registers a callback receiving the names of pruned clips.
func (j *Janitor) OnPruned(fn func(names []string)) {
	j.mu.Lock()
	j.onPruned = append(j.onPruned, fn)
	j.mu.Unlock()
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.scheduler.Start()
	log.Printf("[clips] janitor started retention=%v", j.retention)
}

// Stop halts the schedule and waits for a running prune to finish or ctx
// to expire.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce() ([]string, error) {
	removed, err := j.lib.Prune(j.retention)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		j.mu.Lock()
		hooks := append([]func([]string){}, j.onPruned...)
		j.mu.Unlock()
		for _, fn := range hooks {
			fn(removed)
		}
	}
	return removed, nil
}

func (j *Janitor) run() {
	if _, err := j.RunOnce(); err != nil {
		log.Printf("[clips] scheduled prune failed: %v", err)
	}
}
