package recorder

import (
	"fmt"
	"strings"
	"time"

	"proctor/pkg/types"
)

// ClipTimeLayout is the timestamp layout embedded in clip names.
const ClipTimeLayout = "20060102_150405"

// ClipName builds cheating_<user>_<YYYYMMDD_HHMMSS>_<seconds>s_<flags>.<ext>
// where flags are joined with underscores, or "general" when there are none.
// Seconds are truncated.
func ClipName(username string, at time.Time, duration time.Duration, flags []types.Flag, ext string) string {
	tag := "general"
	if len(flags) > 0 {
		parts := make([]string, len(flags))
		for i, f := range flags {
			parts[i] = string(f)
		}
		tag = strings.Join(parts, "_")
	}
	return fmt.Sprintf("cheating_%s_%s_%ds_%s%s",
		username, at.Format(ClipTimeLayout), int(duration.Seconds()), tag, ext)
}
