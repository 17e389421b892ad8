package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of write events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads tuning from a config file whenever it changes on disk.
type Watcher struct {
	path     string
	store    *TuningStore
	watcher  *fsnotify.Watcher
	onReload func(Tuning)

	mu       sync.Mutex
	debounce *time.Timer
	done     chan struct{}
	wg       sync.WaitGroup
}

// WatchTuning starts watching path and swaps reloaded tuning into store.
// The parent directory is watched so atomic rename-on-save is seen.
func WatchTuning(path string, store *TuningStore, onReload func(Tuning)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		store:    store,
		watcher:  fw,
		onReload: onReload,
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	log.Printf("[config] Watching %s for tuning changes", path)
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.debounce = time.AfterFunc(reloadDebounce, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] Watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

// reload re-reads the file with the usual precedence and keeps the
// previous tuning when anything is invalid.
func (w *Watcher) reload() {
	file, err := readConfigFile(w.path)
	if err != nil {
		log.Printf("[config] reload failed, keeping previous tuning: %v", err)
		return
	}
	cfg := LoadFromEnv()
	if err := file.apply(cfg); err != nil {
		log.Printf("[config] reload failed, keeping previous tuning: %v", err)
		return
	}

	tuning := cfg.Tuning()
	if err := w.store.Store(tuning); err != nil {
		log.Printf("[config] reloaded tuning invalid, keeping previous: %v", err)
		return
	}

	log.Printf("[config] tuning reloaded: vote_threshold=%d min_clip=%s window=%s",
		tuning.VoteThreshold, tuning.MinClipDuration, tuning.SmoothingWindow)
	if w.onReload != nil {
		w.onReload(tuning)
	}
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return nil
	default:
		close(w.done)
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
