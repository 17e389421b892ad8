package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile represents the on-disk configuration structure
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings;
// the same tags serve JSON and YAML files
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Camera    *CameraConfigFile    `json:"camera" yaml:"camera"`
	Audio     *AudioConfigFile     `json:"audio" yaml:"audio"`
	Detection *DetectionConfigFile `json:"detection" yaml:"detection"`
	Recording *RecordingConfigFile `json:"recording" yaml:"recording"`
	Models    *ModelsConfigFile    `json:"models" yaml:"models"`
	Session   *SessionConfigFile   `json:"session" yaml:"session"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
}

type CameraConfigFile struct {
	Device      string `json:"device" yaml:"device"`
	Width       int    `json:"width" yaml:"width"`
	Height      int    `json:"height" yaml:"height"`
	FPS         int    `json:"fps" yaml:"fps"`
	Mirror      *bool  `json:"mirror" yaml:"mirror"`
	ReadTimeout string `json:"read_timeout" yaml:"read_timeout"`
}

type AudioConfigFile struct {
	Enabled      *bool   `json:"enabled" yaml:"enabled"`
	SampleRate   int     `json:"sample_rate" yaml:"sample_rate"`
	ChunkSize    int     `json:"chunk_size" yaml:"chunk_size"`
	Threshold    float64 `json:"threshold" yaml:"threshold"`
	PollInterval string  `json:"poll_interval" yaml:"poll_interval"`
	ErrorBackoff string  `json:"error_backoff" yaml:"error_backoff"`
	JoinTimeout  string  `json:"join_timeout" yaml:"join_timeout"`
}

type DetectionConfigFile struct {
	VoteThreshold        int     `json:"vote_threshold" yaml:"vote_threshold"`
	GazeLowerBand        float64 `json:"gaze_lower_band" yaml:"gaze_lower_band"`
	GazeUpperBand        float64 `json:"gaze_upper_band" yaml:"gaze_upper_band"`
	YawLimitDegrees      float64 `json:"yaw_limit_degrees" yaml:"yaw_limit_degrees"`
	PitchLimitDegrees    float64 `json:"pitch_limit_degrees" yaml:"pitch_limit_degrees"`
	ObjectEvery          int     `json:"object_every" yaml:"object_every"`
	LivenessEvery        int     `json:"liveness_every" yaml:"liveness_every"`
	ObjectConfidence     float64 `json:"object_confidence" yaml:"object_confidence"`
	SmoothingWindow      string  `json:"smoothing_window" yaml:"smoothing_window"`
	MaxExtractorFailures int     `json:"max_extractor_failures" yaml:"max_extractor_failures"`
}

type RecordingConfigFile struct {
	Directory         string `json:"directory" yaml:"directory"`
	Extension         string `json:"extension" yaml:"extension"`
	MinDuration       string `json:"min_duration" yaml:"min_duration"`
	FPS               int    `json:"fps" yaml:"fps"`
	MaxBufferedFrames int    `json:"max_buffered_frames" yaml:"max_buffered_frames"`
	Retention         string `json:"retention" yaml:"retention"`
	PruneSchedule     string `json:"prune_schedule" yaml:"prune_schedule"`
}

type ModelsConfigFile struct {
	ONNXLibraryPath   string   `json:"onnx_library_path" yaml:"onnx_library_path"`
	ObjectModelPath   *string  `json:"object_model_path" yaml:"object_model_path"`
	LivenessModelPath *string  `json:"liveness_model_path" yaml:"liveness_model_path"`
	LivenessClasses   []string `json:"liveness_classes" yaml:"liveness_classes"`
	InputSize         int      `json:"input_size" yaml:"input_size"`
	LandmarkURL       *string  `json:"landmark_url" yaml:"landmark_url"`
	LandmarkTimeout   string   `json:"landmark_timeout" yaml:"landmark_timeout"`
}

type SessionConfigFile struct {
	DefaultBudget   string  `json:"default_budget" yaml:"default_budget"`
	LiveFeedQuality int     `json:"live_feed_quality" yaml:"live_feed_quality"`
	FocusEventRate  float64 `json:"focus_event_rate" yaml:"focus_event_rate"`
	FocusEventBurst int     `json:"focus_event_burst" yaml:"focus_event_burst"`
}

// LoadFromFile reads a JSON or YAML file (chosen by extension) over the defaults
func LoadFromFile(path string) (*Config, error) {
	file, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return config, nil
}

func readConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json", "":
		err = json.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &file, nil
}

// setDuration parses s into dst when s is non-empty.
func setDuration(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

// apply overlays the non-zero file values onto config.
func (f *ConfigFile) apply(config *Config) error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if f.Database != nil {
		if f.Database.Path != "" {
			config.Database.Path = f.Database.Path
		}
		check(setDuration("database.timeout", f.Database.Timeout, &config.Database.Timeout))
	}

	if f.HTTP != nil {
		if f.HTTP.Port > 0 {
			config.HTTP.Port = f.HTTP.Port
		}
		if f.HTTP.Host != "" {
			config.HTTP.Host = f.HTTP.Host
		}
		check(setDuration("http.read_timeout", f.HTTP.ReadTimeout, &config.HTTP.ReadTimeout))
		check(setDuration("http.write_timeout", f.HTTP.WriteTimeout, &config.HTTP.WriteTimeout))
	}

	if f.WebSocket != nil {
		if f.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = f.WebSocket.BufferSize
		}
		check(setDuration("websocket.ping_interval", f.WebSocket.PingInterval, &config.WebSocket.PingInterval))
		check(setDuration("websocket.read_timeout", f.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout))
		check(setDuration("websocket.write_timeout", f.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout))
	}

	if f.Camera != nil {
		if f.Camera.Device != "" {
			config.Camera.Device = f.Camera.Device
		}
		if f.Camera.Width > 0 {
			config.Camera.Width = f.Camera.Width
		}
		if f.Camera.Height > 0 {
			config.Camera.Height = f.Camera.Height
		}
		if f.Camera.FPS > 0 {
			config.Camera.FPS = f.Camera.FPS
		}
		if f.Camera.Mirror != nil {
			config.Camera.Mirror = *f.Camera.Mirror
		}
		check(setDuration("camera.read_timeout", f.Camera.ReadTimeout, &config.Camera.ReadTimeout))
	}

	if f.Audio != nil {
		if f.Audio.Enabled != nil {
			config.Audio.Enabled = *f.Audio.Enabled
		}
		if f.Audio.SampleRate > 0 {
			config.Audio.SampleRate = f.Audio.SampleRate
		}
		if f.Audio.ChunkSize > 0 {
			config.Audio.ChunkSize = f.Audio.ChunkSize
		}
		if f.Audio.Threshold > 0 {
			config.Audio.Threshold = f.Audio.Threshold
		}
		check(setDuration("audio.poll_interval", f.Audio.PollInterval, &config.Audio.PollInterval))
		check(setDuration("audio.error_backoff", f.Audio.ErrorBackoff, &config.Audio.ErrorBackoff))
		check(setDuration("audio.join_timeout", f.Audio.JoinTimeout, &config.Audio.JoinTimeout))
	}

	if f.Detection != nil {
		f.Detection.apply(config.Detection, check)
	}

	if f.Recording != nil {
		f.Recording.apply(config.Recording, check)
	}

	if f.Models != nil {
		if f.Models.ONNXLibraryPath != "" {
			config.Models.ONNXLibraryPath = f.Models.ONNXLibraryPath
		}
		// TECHNICAL DISCOVERY: Pointer fields let a file disable a model with ""
		if f.Models.ObjectModelPath != nil {
			config.Models.ObjectModelPath = *f.Models.ObjectModelPath
		}
		if f.Models.LivenessModelPath != nil {
			config.Models.LivenessModelPath = *f.Models.LivenessModelPath
		}
		if len(f.Models.LivenessClasses) > 0 {
			config.Models.LivenessClasses = f.Models.LivenessClasses
		}
		if f.Models.InputSize > 0 {
			config.Models.InputSize = f.Models.InputSize
		}
		if f.Models.LandmarkURL != nil {
			config.Models.LandmarkURL = *f.Models.LandmarkURL
		}
		check(setDuration("models.landmark_timeout", f.Models.LandmarkTimeout, &config.Models.LandmarkTimeout))
	}

	if f.Session != nil {
		check(setDuration("session.default_budget", f.Session.DefaultBudget, &config.Session.DefaultBudget))
		if f.Session.LiveFeedQuality > 0 {
			config.Session.LiveFeedQuality = f.Session.LiveFeedQuality
		}
		if f.Session.FocusEventRate > 0 {
			config.Session.FocusEventRate = f.Session.FocusEventRate
		}
		if f.Session.FocusEventBurst > 0 {
			config.Session.FocusEventBurst = f.Session.FocusEventBurst
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (d *DetectionConfigFile) apply(dst *DetectionConfig, check func(error)) {
	if d.VoteThreshold > 0 {
		dst.VoteThreshold = d.VoteThreshold
	}
	if d.GazeLowerBand > 0 {
		dst.GazeLowerBand = d.GazeLowerBand
	}
	if d.GazeUpperBand > 0 {
		dst.GazeUpperBand = d.GazeUpperBand
	}
	if d.YawLimitDegrees > 0 {
		dst.YawLimitDegrees = d.YawLimitDegrees
	}
	if d.PitchLimitDegrees > 0 {
		dst.PitchLimitDegrees = d.PitchLimitDegrees
	}
	if d.ObjectEvery > 0 {
		dst.ObjectEvery = d.ObjectEvery
	}
	if d.LivenessEvery > 0 {
		dst.LivenessEvery = d.LivenessEvery
	}
	if d.ObjectConfidence > 0 {
		dst.ObjectConfidence = d.ObjectConfidence
	}
	if d.MaxExtractorFailures > 0 {
		dst.MaxExtractorFailures = d.MaxExtractorFailures
	}
	check(setDuration("detection.smoothing_window", d.SmoothingWindow, &dst.SmoothingWindow))
}

func (r *RecordingConfigFile) apply(dst *RecordingConfig, check func(error)) {
	if r.Directory != "" {
		dst.Directory = r.Directory
	}
	if r.Extension != "" {
		dst.Extension = r.Extension
	}
	if r.FPS > 0 {
		dst.FPS = r.FPS
	}
	if r.MaxBufferedFrames > 0 {
		dst.MaxBufferedFrames = r.MaxBufferedFrames
	}
	if r.PruneSchedule != "" {
		dst.PruneSchedule = r.PruneSchedule
	}
	check(setDuration("recording.min_duration", r.MinDuration, &dst.MinDuration))
	check(setDuration("recording.retention", r.Retention, &dst.Retention))
}
