package clips

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeClip(t *testing.T, dir, name string, size int, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestLibrary_ListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeClip(t, dir, "cheating_a_old.mp4", 10, now.Add(-2*time.Hour))
	writeClip(t, dir, "cheating_a_new.mp4", 3*1024*1024, now)
	writeClip(t, dir, "cheating_a_mid.mp4.part", 10, now)
	writeClip(t, dir, "notes.txt", 10, now)

	lib := NewLibrary(dir, ".mp4")
	clips, err := lib.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("got %d clips: %+v", len(clips), clips)
	}
	if clips[0].Filename != "cheating_a_new.mp4" {
		t.Errorf("newest first: got %s", clips[0].Filename)
	}
	if clips[0].SizeMB != 3 || clips[0].SizeBytes != 3*1024*1024 {
		t.Errorf("size = %d bytes / %v MB", clips[0].SizeBytes, clips[0].SizeMB)
	}
}

func TestLibrary_ListMissingDirectory(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "absent"), ".mp4")
	clips, err := lib.List()
	if err != nil || len(clips) != 0 {
		t.Errorf("List = %v, %v", clips, err)
	}
}

func TestLibrary_Delete(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "cheating_a.mp4", 10, time.Now())
	lib := NewLibrary(dir, ".mp4")

	tests := []struct {
		name string
		file string
		want error
	}{
		{"existing", "cheating_a.mp4", nil},
		{"already gone", "cheating_a.mp4", ErrClipNotFound},
		{"traversal", "../secret.mp4", ErrInvalidClipName},
		{"separator", "sub/clip.mp4", ErrInvalidClipName},
		{"backslash", `sub\clip.mp4`, ErrInvalidClipName},
		{"wrong extension", "clip.avi", ErrInvalidClipName},
		{"empty", "", ErrInvalidClipName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := lib.Delete(tt.file)
			if !errors.Is(err, tt.want) {
				t.Errorf("Delete(%q) = %v, want %v", tt.file, err, tt.want)
			}
		})
	}
}

func TestLibrary_Prune(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeClip(t, dir, "old.mp4", 1, now.Add(-48*time.Hour))
	writeClip(t, dir, "fresh.mp4", 1, now.Add(-time.Hour))

	lib := NewLibrary(dir, ".mp4")
	removed, err := lib.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "old.mp4" {
		t.Errorf("removed = %v", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh.mp4")); err != nil {
		t.Error("fresh clip should survive")
	}

	if _, err := lib.Prune(0); err == nil {
		t.Error("zero age should be rejected")
	}
}

func TestJanitor(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "old.mp4", 1, time.Now().Add(-48*time.Hour))
	lib := NewLibrary(dir, ".mp4")

	if _, err := NewJanitor(lib, "not a schedule", time.Hour); err == nil {
		t.Error("bad schedule should be rejected")
	}
	if _, err := NewJanitor(lib, "@hourly", 0); err == nil {
		t.Error("zero retention should be rejected")
	}

	j, err := NewJanitor(lib, "@hourly", 24*time.Hour)
	if err != nil {
		t.Fatalf("NewJanitor failed: %v", err)
	}

	var mu sync.Mutex
	var pruned []string
	j.OnPruned(func(names []string) {
		mu.Lock()
		pruned = append(pruned, names...)
		mu.Unlock()
	})

	j.Start()
	defer j.Stop(context.Background())

	if _, err := j.RunOnce(); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(pruned) != 1 || pruned[0] != "old.mp4" {
		t.Errorf("pruned = %v", pruned)
	}
}
