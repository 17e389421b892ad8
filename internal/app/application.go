package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proctor/internal/api"
	"proctor/internal/audio"
	"proctor/internal/capture/gstreamer"
	"proctor/internal/clips"
	"proctor/internal/config"
	"proctor/internal/database"
	"proctor/internal/hub"
	"proctor/internal/inference"
	"proctor/internal/livefeed"
	"proctor/internal/pipeline"
	"proctor/internal/recorder"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/internal/websocket"
	pkgdatabase "proctor/pkg/database"
	"proctor/pkg/types"
)

// limiterSweep is how often idle focus-event buckets are dropped
const limiterSweep = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	configPath string

	dbManager     *database.Manager
	registry      *websocket.Registry
	messageRouter *router.Router
	messageHub    *hub.Hub
	archiver      *recorder.Archiver
	library       *clips.Library
	janitor       *clips.Janitor
	tuning        *config.TuningStore
	controller    *session.Controller
	focusLimiter  *router.RateLimiter
	models        []io.Closer
	onnxRuntime   bool
	apiServer     *api.Server
	httpServer    *http.Server

	watcher  *config.Watcher
	sweepEnd chan struct{}
	sweepWG  sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Events → Archiver → Devices/Models → Controller → API → HTTP
// configPath, when set, is watched for tuning changes after Start.
func NewApplication(cfg *config.Config, configPath string) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbManager, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	// STEP 2: Event plumbing: registry → router (persist, deliver) → hub
	registry := websocket.NewRegistry()
	messageRouter := router.NewRouter(registry, dbManager)
	messageHub := hub.NewHub(messageRouter)

	// STEP 3: Clip archiver writes evidence off the frame loop
	archiver := recorder.NewArchiver(recorder.ArchiverConfig{
		Directory: cfg.Recording.Directory,
		Extension: cfg.Recording.Extension,
		FPS:       cfg.Recording.FPS,
	}, gstreamer.NewEncoder())
	archiver.OnSaved(func(rec types.ClipRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
		defer cancel()
		if err := dbManager.RecordClip(ctx, &rec); err != nil {
			log.Printf("Failed to record clip %s: %v", rec.Filename, err)
		}
		if err := messageHub.Publish(clipSavedEvent(rec)); err != nil {
			log.Printf("Failed to publish clip_saved for %s: %v", rec.Filename, err)
		}
	})

	// STEP 4: Devices and black-box models
	var monitor session.AudioMonitor
	if cfg.Audio.Enabled {
		monitor = audio.NewMonitor(gstreamer.MicrophoneOpener(gstreamer.MicrophoneConfig{
			SampleRate: cfg.Audio.SampleRate,
			ChunkSize:  cfg.Audio.ChunkSize,
		}), audio.Config{
			Threshold:    cfg.Audio.Threshold,
			PollInterval: cfg.Audio.PollInterval,
			ErrorBackoff: cfg.Audio.ErrorBackoff,
			JoinTimeout:  cfg.Audio.JoinTimeout,
		})
	} else {
		log.Println("[audio] sound detection disabled by configuration")
	}
	detectors, models, onnxRuntime := loadDetectors(cfg)

	// STEP 5: Session controller over the hot-reloadable tuning
	tuning := config.NewTuningStore(cfg.Tuning())
	controller := session.NewController(session.Dependencies{
		Camera: gstreamer.CameraOpener(gstreamer.CameraConfig{
			Device:      cfg.Camera.Device,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FPS:         cfg.Camera.FPS,
			Mirror:      cfg.Camera.Mirror,
			ReadTimeout: cfg.Camera.ReadTimeout,
		}),
		Audio:     monitor,
		Detectors: detectors,
		Clips:     archiver,
		Store:     dbManager,
		Events:    messageHub,
		Tuning:    tuning,
		Renderer:  livefeed.NewRenderer(cfg.Session.LiveFeedQuality),
	}, session.Options{
		RecordingDirectory: cfg.Recording.Directory,
	})

	// STEP 6: Clip library and retention
	library := clips.NewLibrary(cfg.Recording.Directory, cfg.Recording.Extension)
	var janitor *clips.Janitor
	if cfg.Recording.Retention > 0 {
		janitor, err = clips.NewJanitor(library, cfg.Recording.PruneSchedule, cfg.Recording.Retention)
		if err != nil {
			archiver.Close()
			dbManager.Close()
			return nil, fmt.Errorf("failed to create clip janitor: %w", err)
		}
		janitor.OnPruned(func(names []string) {
			for _, name := range names {
				if err := dbManager.DeleteClip(context.Background(), name); err != nil {
					log.Printf("Failed to delete clip metadata for %s: %v", name, err)
				}
			}
		})
	}

	// STEP 7: Initialize API server with all business dependencies
	wsHandler := websocket.NewHandler(registry, dbManager, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		HistoryLimit: websocket.DefaultConfig().HistoryLimit,
	})
	focusLimiter := router.NewRateLimiter(cfg.Session.FocusEventRate, cfg.Session.FocusEventBurst)
	apiServer := api.NewServer(api.Dependencies{
		Proctor:      controller,
		Clips:        library,
		Store:        dbManager,
		Registry:     registry,
		Events:       http.HandlerFunc(wsHandler.HandleWebSocket),
		FocusLimiter: focusLimiter,
	})

	// STEP 8: HTTP server. WriteTimeout stays 0 by default for the live feed.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		configPath:    configPath,
		dbManager:     dbManager,
		registry:      registry,
		messageRouter: messageRouter,
		messageHub:    messageHub,
		archiver:      archiver,
		library:       library,
		janitor:       janitor,
		tuning:        tuning,
		controller:    controller,
		focusLimiter:  focusLimiter,
		models:        models,
		onnxRuntime:   onnxRuntime,
		apiServer:     apiServer,
		httpServer:    httpServer,
		sweepEnd:      make(chan struct{}),
	}, nil
}

// openDatabase creates the store and brings its schema up to date
func openDatabase(cfg *config.DatabaseConfig) (*database.Manager, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Path,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    cfg.Timeout,
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// Apply database migrations to ensure schema is up to date
	migrations := pkgdatabase.NewEmbeddedMigrationManager(dbManager.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	log.Println("Database migrations applied successfully")
	return dbManager, nil
}

// loadDetectors loads every configured model. A model that fails to load
// is logged and left out; the pipeline treats its signal as absent.
func loadDetectors(cfg *config.Config) (pipeline.Detectors, []io.Closer, bool) {
	var (
		det     pipeline.Detectors
		closers []io.Closer
		runtime bool
	)
	m := cfg.Models

	if m.ObjectModelPath != "" || m.LivenessModelPath != "" {
		if err := inference.InitRuntime(m.ONNXLibraryPath); err != nil {
			log.Printf("[models] ONNX runtime unavailable, object and liveness detection disabled: %v", err)
		} else {
			runtime = true
		}
	}

	if runtime && m.ObjectModelPath != "" {
		d, err := inference.LoadDetector(inference.ModelConfig{
			LibraryPath: m.ONNXLibraryPath,
			ModelPath:   m.ObjectModelPath,
			InputSize:   m.InputSize,
		}, cfg.Detection.ObjectConfidence)
		if err != nil {
			log.Printf("[models] object detector disabled: %v", err)
		} else {
			det.Objects = d
			closers = append(closers, d)
			log.Printf("[models] object detector loaded from %s", m.ObjectModelPath)
		}
	}

	if runtime && m.LivenessModelPath != "" {
		l, err := inference.LoadLiveness(inference.ModelConfig{
			LibraryPath: m.ONNXLibraryPath,
			ModelPath:   m.LivenessModelPath,
		}, m.LivenessClasses)
		if err != nil {
			log.Printf("[models] liveness classifier disabled: %v", err)
		} else {
			det.Liveness = l
			closers = append(closers, l)
			log.Printf("[models] liveness classifier loaded from %s", m.LivenessModelPath)
		}
	}

	if m.LandmarkURL != "" {
		det.Landmarks = inference.NewLandmarkClient(m.LandmarkURL, m.LandmarkTimeout)
		log.Printf("[models] face landmarks from %s", m.LandmarkURL)
	} else {
		log.Println("[models] face landmarks disabled, gaze and head pose signals are off")
	}

	return det, closers, runtime
}

func clipSavedEvent(rec types.ClipRecord) types.Event {
	return types.Event{
		Type:      types.EventClipSaved,
		SessionID: rec.SessionID,
		Username:  rec.Username,
		Payload: map[string]interface{}{
			"filename":         rec.Filename,
			"duration_seconds": rec.DurationSeconds,
			"frames":           rec.Frames,
			"flags":            rec.Flags,
			"forced":           rec.Forced,
		},
		Timestamp: rec.CreatedAt,
	}
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle events, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting proctoring station on %s", app.httpServer.Addr)

	// STEP 1: Start event hub (background event processing)
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// STEP 2: Background maintenance
	app.startMaintenance()

	// STEP 3: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.stopMaintenance(context.Background())
		app.messageHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Proctoring station started successfully")
		return nil
	case <-ctx.Done():
		app.stopMaintenance(context.Background())
		app.messageHub.Stop()
		return ctx.Err()
	}
}

// startMaintenance starts the config watcher, the clip janitor and the
// rate limiter sweep
func (app *Application) startMaintenance() {
	if app.configPath != "" {
		w, err := config.WatchTuning(app.configPath, app.tuning, func(t config.Tuning) {
			log.Printf("[config] tuning reloaded: votes=%d min_clip=%v window=%v",
				t.VoteThreshold, t.MinClipDuration, t.SmoothingWindow)
		})
		if err != nil {
			log.Printf("[config] hot reload disabled: %v", err)
		} else {
			app.watcher = w
		}
	}

	if app.janitor != nil {
		app.janitor.Start()
	}

	app.sweepWG.Add(1)
	go func() {
		defer app.sweepWG.Done()
		ticker := time.NewTicker(limiterSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				app.focusLimiter.Cleanup(10 * limiterSweep)
			case <-app.sweepEnd:
				return
			}
		}
	}()
}

func (app *Application) stopMaintenance(ctx context.Context) {
	select {
	case <-app.sweepEnd:
	default:
		close(app.sweepEnd)
	}
	app.sweepWG.Wait()

	if app.janitor != nil {
		app.janitor.Stop(ctx)
	}
	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			log.Printf("[config] watcher close: %v", err)
		}
		app.watcher = nil
	}
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Session → Archiver → Hub → Models → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down proctoring station")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: End the running exam; its open clip is flushed
	if err := app.controller.Shutdown(ctx); err != nil {
		log.Printf("Session shutdown error: %v", err)
	}

	app.stopMaintenance(ctx)

	// STEP 3: Finish writing queued clips while the hub still runs
	if err := app.archiver.Close(); err != nil {
		log.Printf("Archiver shutdown error: %v", err)
	}

	// STEP 4: Stop event processing
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Event hub shutdown error: %v", err)
	}

	// STEP 5: Release models
	for _, m := range app.models {
		if err := m.Close(); err != nil {
			log.Printf("[models] close error: %v", err)
		}
	}
	if app.onnxRuntime {
		if err := inference.ShutdownRuntime(); err != nil {
			log.Printf("[models] runtime shutdown error: %v", err)
		}
	}

	// STEP 6: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Proctoring station shutdown complete")
	return nil
}

// Handler returns the HTTP handler serving the API and the event socket
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Controller returns the session controller
func (app *Application) Controller() *session.Controller {
	return app.controller
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
