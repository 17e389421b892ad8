// Package clips manages the evidence clip directory.
package clips

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"proctor/pkg/types"
)

// Library lists and deletes clip files in one directory.
type Library struct {
	dir string
	ext string
	now func() time.Time
}

// NewLibrary returns a library over dir holding files with extension ext.
func NewLibrary(dir, ext string) *Library {
	return &Library{dir: dir, ext: ext, now: time.Now}
}

// Dir returns the clip directory.
func (l *Library) Dir() string {
	return l.dir
}

// ValidateName rejects names that could escape the directory or that are
// not clips.
func (l *Library) ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidClipName
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidClipName
	}
	if filepath.Base(name) != name {
		return ErrInvalidClipName
	}
	if !strings.EqualFold(filepath.Ext(name), l.ext) {
		return ErrInvalidClipName
	}
	return nil
}

// Path returns the absolute location of a validated clip name.
func (l *Library) Path(name string) (string, error) {
	if err := l.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, name), nil
}

// List returns every clip, newest first. A missing directory is empty.
func (l *Library) List() ([]types.ClipInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.ClipInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read clip directory: %w", err)
	}

	clips := make([]types.ClipInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), l.ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		clips = append(clips, types.ClipInfo{
			Filename:  e.Name(),
			SizeBytes: info.Size(),
			SizeMB:    math.Round(float64(info.Size())/(1024*1024)*100) / 100,
			CreatedAt: info.ModTime(),
			Path:      filepath.Join(l.dir, e.Name()),
		})
	}

	sort.Slice(clips, func(i, j int) bool {
		if clips[i].CreatedAt.Equal(clips[j].CreatedAt) {
			return clips[i].Filename > clips[j].Filename
		}
		return clips[i].CreatedAt.After(clips[j].CreatedAt)
	})
	return clips, nil
}

// Delete removes one clip.
func (l *Library) Delete(name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrClipNotFound
		}
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	log.Printf("[clips] deleted %s", name)
	return nil
}

// Prune deletes clips last modified more than olderThan ago and returns
// their names.
func (l *Library) Prune(olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("prune age must be positive, got %v", olderThan)
	}
	clips, err := l.List()
	if err != nil {
		return nil, err
	}

	cutoff := l.now().Add(-olderThan)
	var removed []string
	for _, c := range clips {
		if !c.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[clips] failed to prune %s: %v", c.Filename, err)
			continue
		}
		removed = append(removed, c.Filename)
	}
	if len(removed) > 0 {
		log.Printf("[clips] pruned %d clips older than %v", len(removed), olderThan)
	}
	return removed, nil
}
