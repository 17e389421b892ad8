package integration

import (
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"proctor/internal/api"
	"proctor/internal/capture"
	"proctor/internal/clips"
	"proctor/internal/config"
	"proctor/internal/database"
	"proctor/internal/hub"
	"proctor/internal/livefeed"
	"proctor/internal/pipeline"
	"proctor/internal/recorder"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/internal/signals"
	"proctor/internal/websocket"
	dbconfig "proctor/pkg/database"
	"proctor/pkg/types"
)

// Clock is a manual clock shared by the camera and the controller
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Camera delivers solid frames as fast as they are read, advancing the
// clock by one frame interval each time
type Camera struct {
	clock *Clock
	step  time.Duration

	mu  sync.Mutex
	seq uint64
}

func (c *Camera) Read(ctx context.Context) (capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return capture.Frame{}, err
	}
	c.clock.Advance(c.step)
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	return capture.Solid(8, 6, color.RGBA{R: 70, G: 70, B: 70, A: 255}, seq, c.clock.Now()), nil
}

func (c *Camera) Close() error { return nil }

// ScriptedObjects reports a book and a phone on the frames cheat selects
type ScriptedObjects struct {
	Cheat func(seq uint64) bool
}

func (s *ScriptedObjects) Detect(ctx context.Context, frame capture.Frame) ([]signals.Detection, error) {
	if s.Cheat == nil || !s.Cheat(frame.Seq) {
		return nil, nil
	}
	return []signals.Detection{
		{Label: signals.LabelBook, Confidence: 0.9},
		{Label: signals.LabelCellPhone, Confidence: 0.9},
	}, nil
}

// FileEncoder writes a placeholder container so clip files exist on disk
type FileEncoder struct{}

func (FileEncoder) Encode(ctx context.Context, path string, frames []capture.Frame, fps int) error {
	return os.WriteFile(path, []byte("clip"), 0644)
}

// Stack is the proctoring station assembled from real components, with
// only the camera, object detector and encoder replaced
type Stack struct {
	DB         *database.Manager
	Registry   *websocket.Registry
	Hub        *hub.Hub
	Archiver   *recorder.Archiver
	Library    *clips.Library
	Controller *session.Controller
	Server     *httptest.Server
	Clock      *Clock
	ClipDir    string
}

// NewStack wires the station the way the application does and serves it
// from an httptest server. Everything is released on test cleanup.
func NewStack(t *testing.T, objects signals.ObjectDetector) *Stack {
	t.Helper()
	dir := t.TempDir()

	dbManager, err := database.NewManager(&dbconfig.Config{
		DatabasePath:    filepath.Join(dir, "proctor.db"),
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create database manager: %v", err)
	}
	if err := dbconfig.NewEmbeddedMigrationManager(dbManager.GetDB()).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	registry := websocket.NewRegistry()
	eventHub := hub.NewHub(router.NewRouter(registry, dbManager))
	if err := eventHub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}

	clipDir := filepath.Join(dir, "clips")
	archiver := recorder.NewArchiver(recorder.ArchiverConfig{
		Directory: clipDir,
		Extension: ".mp4",
		FPS:       20,
	}, FileEncoder{})
	archiver.OnSaved(func(rec types.ClipRecord) {
		if err := dbManager.RecordClip(context.Background(), &rec); err != nil {
			t.Errorf("RecordClip failed: %v", err)
		}
		_ = eventHub.Publish(types.Event{
			Type:      types.EventClipSaved,
			SessionID: rec.SessionID,
			Username:  rec.Username,
			Payload:   map[string]interface{}{"filename": rec.Filename},
		})
	})

	clock := &Clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	camera := &Camera{clock: clock, step: 50 * time.Millisecond}

	tuning := config.DefaultConfig().Tuning()
	tuning.ObjectEvery = 1
	controller := session.NewController(session.Dependencies{
		Camera:    func(ctx context.Context) (capture.Camera, error) { return camera, nil },
		Detectors: pipeline.Detectors{Objects: objects},
		Clips:     archiver,
		Store:     dbManager,
		Events:    eventHub,
		Tuning:    config.NewTuningStore(tuning),
		Renderer:  livefeed.NewRenderer(70),
	}, session.Options{
		RecordingDirectory: clipDir,
		StopTimeout:        5 * time.Second,
		Now:                clock.Now,
	})

	library := clips.NewLibrary(clipDir, ".mp4")
	wsHandler := websocket.NewHandler(registry, dbManager, websocket.DefaultConfig())
	server := httptest.NewServer(api.NewServer(api.Dependencies{
		Proctor:      controller,
		Clips:        library,
		Store:        dbManager,
		Registry:     registry,
		Events:       http.HandlerFunc(wsHandler.HandleWebSocket),
		FocusLimiter: router.NewRateLimiter(10, 10),
	}))

	s := &Stack{
		DB:         dbManager,
		Registry:   registry,
		Hub:        eventHub,
		Archiver:   archiver,
		Library:    library,
		Controller: controller,
		Server:     server,
		Clock:      clock,
		ClipDir:    clipDir,
	}
	t.Cleanup(func() {
		server.Close()
		_ = controller.Shutdown(context.Background())
		_ = archiver.Close()
		_ = eventHub.Stop()
		if err := dbManager.Close(); err != nil {
			t.Logf("Failed to close database manager: %v", err)
		}
	})
	return s
}
