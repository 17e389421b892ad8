package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Infrastructure sections are read once at startup; the detection and recording
// sections also feed the hot-reloadable Tuning snapshot
type Config struct {
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Camera    *CameraConfig
	Audio     *AudioConfig
	Detection *DetectionConfig
	Recording *RecordingConfig
	Models    *ModelsConfig
	Session   *SessionConfig
}

type DatabaseConfig struct {
	Path    string
	Timeout time.Duration
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Host         string
}

type WebSocketConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// FUNCTIONAL DISCOVERY: 640x480 at 30 fps mirrored is what examinees expect
// from a webcam preview and what the landmark models are tuned for
type CameraConfig struct {
	Device      string
	Width       int
	Height      int
	FPS         int
	Mirror      bool
	ReadTimeout time.Duration
}

type AudioConfig struct {
	Enabled      bool
	SampleRate   int
	ChunkSize    int
	Threshold    float64
	PollInterval time.Duration
	ErrorBackoff time.Duration
	JoinTimeout  time.Duration
}

// DetectionConfig holds the signal extraction and fusion knobs.
type DetectionConfig struct {
	VoteThreshold        int
	GazeLowerBand        float64
	GazeUpperBand        float64
	YawLimitDegrees      float64
	PitchLimitDegrees    float64
	ObjectEvery          int
	LivenessEvery        int
	ObjectConfidence     float64
	SmoothingWindow      time.Duration
	MaxExtractorFailures int
}

type RecordingConfig struct {
	Directory         string
	Extension         string
	MinDuration       time.Duration
	FPS               int
	MaxBufferedFrames int
	Retention         time.Duration
	PruneSchedule     string
}

// ModelsConfig points at the black-box inference assets. Empty paths
// disable the corresponding detector.
type ModelsConfig struct {
	ONNXLibraryPath   string
	ObjectModelPath   string
	LivenessModelPath string
	LivenessClasses   []string
	InputSize         int
	LandmarkURL       string
	LandmarkTimeout   time.Duration
}

type SessionConfig struct {
	DefaultBudget   time.Duration
	LiveFeedQuality int
	FocusEventRate  float64
	FocusEventBurst int
}

// FUNCTIONAL DISCOVERY: Defaults mirror a single proctoring station: local
// SQLite file, webcam on /dev/video0, one-hour exams
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/proctor.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Camera: &CameraConfig{
			Device:      "/dev/video0",
			Width:       640,
			Height:      480,
			FPS:         30,
			Mirror:      true,
			ReadTimeout: 2 * time.Second,
		},
		Audio: &AudioConfig{
			Enabled:      true,
			SampleRate:   44100,
			ChunkSize:    1024,
			Threshold:    800,
			PollInterval: 50 * time.Millisecond,
			ErrorBackoff: 100 * time.Millisecond,
			JoinTimeout:  2 * time.Second,
		},
		Detection: &DetectionConfig{
			VoteThreshold:        2,
			GazeLowerBand:        0.42,
			GazeUpperBand:        0.57,
			YawLimitDegrees:      25,
			PitchLimitDegrees:    20,
			ObjectEvery:          10,
			LivenessEvery:        30,
			ObjectConfidence:     0.5,
			SmoothingWindow:      10 * time.Second,
			MaxExtractorFailures: 3,
		},
		Recording: &RecordingConfig{
			Directory:         "cheating_recordings",
			Extension:         ".mp4",
			MinDuration:       700 * time.Millisecond,
			FPS:               20,
			MaxBufferedFrames: 1200,
			Retention:         0,
			PruneSchedule:     "@hourly",
		},
		Models: &ModelsConfig{
			ObjectModelPath:   "models/yolov8n.onnx",
			LivenessModelPath: "models/liveness.onnx",
			LivenessClasses:   []string{"fake", "real"},
			InputSize:         640,
			LandmarkURL:       "http://127.0.0.1:8765/landmarks",
			LandmarkTimeout:   500 * time.Millisecond,
		},
		Session: &SessionConfig{
			DefaultBudget:   3600 * time.Second,
			LiveFeedQuality: 85,
			FocusEventRate:  1,
			FocusEventBurst: 5,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	// TECHNICAL DISCOVERY: Zero write timeout is allowed because the live
	// video feed is a long-lived streaming response
	if c.HTTP.WriteTimeout < 0 {
		return fmt.Errorf("HTTP write timeout cannot be negative")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Camera == nil {
		return fmt.Errorf("camera configuration is required")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera resolution must be positive")
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera fps must be positive")
	}

	if c.Audio == nil {
		return fmt.Errorf("audio configuration is required")
	}
	if c.Audio.SampleRate <= 0 || c.Audio.ChunkSize <= 0 {
		return fmt.Errorf("audio sample rate and chunk size must be positive")
	}
	if c.Audio.JoinTimeout <= 0 {
		return fmt.Errorf("audio join timeout must be positive")
	}

	if c.Detection == nil {
		return fmt.Errorf("detection configuration is required")
	}

	if c.Recording == nil {
		return fmt.Errorf("recording configuration is required")
	}
	if c.Recording.Directory == "" {
		return fmt.Errorf("recording directory cannot be empty")
	}
	if c.Recording.Extension == "" || c.Recording.Extension[0] != '.' {
		return fmt.Errorf("recording extension must start with a dot")
	}
	if c.Recording.FPS <= 0 {
		return fmt.Errorf("recording fps must be positive")
	}
	if c.Recording.Retention < 0 {
		return fmt.Errorf("recording retention cannot be negative")
	}

	if c.Models == nil {
		return fmt.Errorf("models configuration is required")
	}
	if c.Models.InputSize <= 0 {
		return fmt.Errorf("model input size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.LiveFeedQuality < 1 || c.Session.LiveFeedQuality > 100 {
		return fmt.Errorf("live feed quality must be between 1 and 100")
	}
	if c.Session.FocusEventRate <= 0 || c.Session.FocusEventBurst <= 0 {
		return fmt.Errorf("focus event rate and burst must be positive")
	}

	return c.Tuning().Validate()
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("PROCTOR_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("PROCTOR_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("PROCTOR_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if device := os.Getenv("PROCTOR_CAMERA_DEVICE"); device != "" {
		config.Camera.Device = device
	}
	if enabled := os.Getenv("PROCTOR_AUDIO_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Audio.Enabled = b
		}
	}
	if threshold := os.Getenv("PROCTOR_AUDIO_THRESHOLD"); threshold != "" {
		if v, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Audio.Threshold = v
		}
	}
	if dir := os.Getenv("PROCTOR_RECORDING_DIR"); dir != "" {
		config.Recording.Directory = dir
	}
	if minDur := os.Getenv("PROCTOR_MIN_CHEATING_DURATION"); minDur != "" {
		if d, err := time.ParseDuration(minDur); err == nil {
			config.Recording.MinDuration = d
		}
	}
	if budget := os.Getenv("PROCTOR_DEFAULT_EXAM_DURATION"); budget != "" {
		if d, err := time.ParseDuration(budget); err == nil {
			config.Session.DefaultBudget = d
		}
	}
	if lib := os.Getenv("PROCTOR_ONNX_LIBRARY"); lib != "" {
		config.Models.ONNXLibraryPath = lib
	}
	if model, ok := os.LookupEnv("PROCTOR_OBJECT_MODEL"); ok {
		config.Models.ObjectModelPath = model
	}
	if model, ok := os.LookupEnv("PROCTOR_LIVENESS_MODEL"); ok {
		config.Models.LivenessModelPath = model
	}
	if url, ok := os.LookupEnv("PROCTOR_LANDMARK_URL"); ok {
		config.Models.LandmarkURL = url
	}

	return config
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A broken file is reported and ignored so the station still comes up
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		fileConfig, err := readConfigFile(filepath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[config] ignoring %s: %v\n", filepath, err)
			return config
		}
		merged := LoadFromEnv()
		if err := fileConfig.apply(merged); err != nil {
			fmt.Fprintf(os.Stderr, "[config] ignoring %s: %v\n", filepath, err)
			return config
		}
		if err := merged.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "[config] ignoring %s: %v\n", filepath, err)
			return config
		}
		config = merged
	}

	return config
}
