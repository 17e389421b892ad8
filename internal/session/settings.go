package session

import (
	"time"

	"proctor/internal/config"
)

// Settings are the operator-visible knobs and the current activity flags.
type Settings struct {
	TotalTime               int     `json:"total_time"`
	MinimumCheatingDuration float64 `json:"minimum_cheating_duration"`
	RecordingDirectory      string  `json:"recording_directory"`
	AudioDetectionActive    bool    `json:"audio_detection_active"`
	VideoFeedActive         bool    `json:"video_feed_active"`
}

// SettingsUpdate carries the knobs to change. Nil fields are left alone.
type SettingsUpdate struct {
	TotalTime               *int     `json:"total_time"`
	MinimumCheatingDuration *float64 `json:"minimum_cheating_duration"`
}

// Settings returns the current knobs.
func (c *Controller) Settings() Settings {
	t := c.deps.Tuning.Load()
	return Settings{
		TotalTime:               int(t.DefaultBudget / time.Second),
		MinimumCheatingDuration: t.MinClipDuration.Seconds(),
		RecordingDirectory:      c.opts.RecordingDirectory,
		AudioDetectionActive:    c.deps.Audio != nil && c.deps.Audio.Running(),
		VideoFeedActive:         c.Status().Active,
	}
}

// UpdateSettings validates and applies u. The active session picks up a
// new minimum clip duration on its next frame; a new total time applies
// to the next session. It returns the fields that were changed.
func (c *Controller) UpdateSettings(u SettingsUpdate) (map[string]interface{}, error) {
	updated := map[string]interface{}{}
	if u.TotalTime == nil && u.MinimumCheatingDuration == nil {
		return updated, nil
	}

	_, err := c.deps.Tuning.Update(func(t *config.Tuning) {
		if u.TotalTime != nil {
			t.DefaultBudget = time.Duration(*u.TotalTime) * time.Second
		}
		if u.MinimumCheatingDuration != nil {
			t.MinClipDuration = time.Duration(*u.MinimumCheatingDuration * float64(time.Second))
		}
	})
	if err != nil {
		return nil, err
	}

	if u.TotalTime != nil {
		updated["total_time"] = *u.TotalTime
	}
	if u.MinimumCheatingDuration != nil {
		updated["minimum_cheating_duration"] = *u.MinimumCheatingDuration
	}
	return updated, nil
}
