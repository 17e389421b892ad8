package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTuningStore_UpdateRejectsInvalid(t *testing.T) {
	store := NewTuningStore(DefaultConfig().Tuning())

	got, err := store.Update(func(t *Tuning) { t.VoteThreshold = 0 })
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got.VoteThreshold != 2 || store.Load().VoteThreshold != 2 {
		t.Errorf("invalid update must leave snapshot unchanged, got %d", store.Load().VoteThreshold)
	}

	got, err = store.Update(func(t *Tuning) { t.MinClipDuration = 3 * time.Second })
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.MinClipDuration != 3*time.Second || store.Load().MinClipDuration != 3*time.Second {
		t.Errorf("update not visible: %v", store.Load().MinClipDuration)
	}
}

func TestTuningStore_ConcurrentReaders(t *testing.T) {
	store := NewTuningStore(DefaultConfig().Tuning())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tn := store.Load()
				if tn.GazeLowerBand >= tn.GazeUpperBand {
					t.Error("observed torn snapshot")
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		_, _ = store.Update(func(t *Tuning) { t.VoteThreshold = 1 + j%3 })
	}
	wg.Wait()
}

func TestWatchTuning_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  vote_threshold: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewTuningStore(DefaultConfig().Tuning())
	reloaded := make(chan Tuning, 4)
	w, err := WatchTuning(path, store, func(t Tuning) { reloaded <- t })
	if err != nil {
		t.Fatalf("WatchTuning failed: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("detection:\n  vote_threshold: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case tn := <-reloaded:
		if tn.VoteThreshold != 4 {
			t.Errorf("reloaded vote threshold = %d, want 4", tn.VoteThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tuning was not reloaded")
	}
	if store.Load().VoteThreshold != 4 {
		t.Errorf("store not updated: %d", store.Load().VoteThreshold)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
}
