package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	tuning := config.Tuning()
	if tuning.VoteThreshold != 2 {
		t.Errorf("VoteThreshold = %d, want 2", tuning.VoteThreshold)
	}
	if tuning.GazeLowerBand != 0.42 || tuning.GazeUpperBand != 0.57 {
		t.Errorf("gaze bands = %v/%v", tuning.GazeLowerBand, tuning.GazeUpperBand)
	}
	if tuning.ObjectEvery != 10 || tuning.LivenessEvery != 30 {
		t.Errorf("cadences = %d/%d", tuning.ObjectEvery, tuning.LivenessEvery)
	}
	if tuning.MinClipDuration != 700*time.Millisecond {
		t.Errorf("MinClipDuration = %v", tuning.MinClipDuration)
	}
	if tuning.SmoothingWindow != 10*time.Second {
		t.Errorf("SmoothingWindow = %v", tuning.SmoothingWindow)
	}
	if tuning.AudioThreshold != 800 {
		t.Errorf("AudioThreshold = %v", tuning.AudioThreshold)
	}
	if config.Audio.SampleRate != 44100 || config.Audio.ChunkSize != 1024 {
		t.Errorf("audio format = %d/%d", config.Audio.SampleRate, config.Audio.ChunkSize)
	}
	if config.Session.DefaultBudget != time.Hour {
		t.Errorf("DefaultBudget = %v", config.Session.DefaultBudget)
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"ws read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = time.Second }},
		{"zero camera width", func(c *Config) { c.Camera.Width = 0 }},
		{"inverted gaze bands", func(c *Config) { c.Detection.GazeLowerBand = 0.6 }},
		{"zero vote threshold", func(c *Config) { c.Detection.VoteThreshold = 0 }},
		{"extension without dot", func(c *Config) { c.Recording.Extension = "mp4" }},
		{"negative retention", func(c *Config) { c.Recording.Retention = -time.Hour }},
		{"quality out of range", func(c *Config) { c.Session.LiveFeedQuality = 101 }},
		{"nil audio", func(c *Config) { c.Audio = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("PROCTOR_HTTP_PORT", "9090")
	t.Setenv("PROCTOR_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("PROCTOR_AUDIO_ENABLED", "false")
	t.Setenv("PROCTOR_MIN_CHEATING_DURATION", "1500ms")
	t.Setenv("PROCTOR_OBJECT_MODEL", "")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %s", config.Database.Path)
	}
	if config.Audio.Enabled {
		t.Error("Expected audio disabled")
	}
	if config.Recording.MinDuration != 1500*time.Millisecond {
		t.Errorf("Expected min duration 1.5s, got %v", config.Recording.MinDuration)
	}
	if config.Models.ObjectModelPath != "" {
		t.Errorf("Expected object model disabled, got %q", config.Models.ObjectModelPath)
	}
}

func TestConfig_LoadFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("PROCTOR_HTTP_PORT", "not-a-number")
	config := LoadFromEnv()
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port on bad env, got %d", config.HTTP.Port)
	}
}

// FUNCTIONAL VALIDATION TEST: JSON and YAML files share one schema
func TestConfig_LoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.json")
	content := `{
		"http": {"port": 7000, "host": "127.0.0.1"},
		"detection": {"vote_threshold": 3, "smoothing_window": "5s"},
		"recording": {"directory": "/var/clips", "min_duration": "2s"},
		"camera": {"mirror": false}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.HTTP.Port != 7000 || config.HTTP.Host != "127.0.0.1" {
		t.Errorf("http = %+v", config.HTTP)
	}
	if config.Detection.VoteThreshold != 3 || config.Detection.SmoothingWindow != 5*time.Second {
		t.Errorf("detection = %+v", config.Detection)
	}
	if config.Recording.Directory != "/var/clips" || config.Recording.MinDuration != 2*time.Second {
		t.Errorf("recording = %+v", config.Recording)
	}
	if config.Camera.Mirror {
		t.Error("mirror should be disabled by file")
	}
	// untouched sections keep defaults
	if config.Audio.ChunkSize != 1024 {
		t.Errorf("audio chunk = %d", config.Audio.ChunkSize)
	}
}

func TestConfig_LoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctor.yaml")
	content := `
audio:
  threshold: 1200
  enabled: false
models:
  liveness_model_path: ""
  liveness_classes: [spoof, real]
session:
  default_budget: 45m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Audio.Threshold != 1200 || config.Audio.Enabled {
		t.Errorf("audio = %+v", config.Audio)
	}
	if config.Models.LivenessModelPath != "" {
		t.Errorf("liveness model should be disabled, got %q", config.Models.LivenessModelPath)
	}
	if len(config.Models.LivenessClasses) != 2 || config.Models.LivenessClasses[0] != "spoof" {
		t.Errorf("classes = %v", config.Models.LivenessClasses)
	}
	if config.Session.DefaultBudget != 45*time.Minute {
		t.Errorf("budget = %v", config.Session.DefaultBudget)
	}
}

func TestConfig_LoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	badDuration := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(badDuration, []byte(`{"recording": {"min_duration": "soon"}}`), 0644)
	if _, err := LoadFromFile(badDuration); err == nil {
		t.Error("expected error for invalid duration")
	}

	badExt := filepath.Join(dir, "proctor.toml")
	_ = os.WriteFile(badExt, []byte(`x = 1`), 0644)
	if _, err := LoadFromFile(badExt); err == nil {
		t.Error("expected error for unsupported extension")
	}

	invalid := filepath.Join(dir, "invalid.json")
	_ = os.WriteFile(invalid, []byte(`{"detection": {"gaze_lower_band": 0.9}}`), 0644)
	if _, err := LoadFromFile(invalid); err == nil {
		t.Error("expected validation error for inverted gaze bands")
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration precedence: file > environment > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("PROCTOR_HTTP_PORT", "9191")
	t.Setenv("PROCTOR_HTTP_HOST", "10.0.0.1")

	path := filepath.Join(t.TempDir(), "proctor.json")
	_ = os.WriteFile(path, []byte(`{"http": {"port": 7070}}`), 0644)

	config := LoadConfigWithPrecedence(path)
	if config.HTTP.Port != 7070 {
		t.Errorf("file should win over env: port %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "10.0.0.1" {
		t.Errorf("env should win over default: host %s", config.HTTP.Host)
	}

	broken := filepath.Join(t.TempDir(), "broken.json")
	_ = os.WriteFile(broken, []byte(`{`), 0644)
	config = LoadConfigWithPrecedence(broken)
	if config.HTTP.Port != 9191 {
		t.Errorf("broken file should fall back to env: port %d", config.HTTP.Port)
	}
}
