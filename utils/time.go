package utils

import (
	"fmt"
	"time"
)

// FormatSRTTimestamp formats a duration to SRT timestamp format (HH:MM:SS,mmm)
func FormatSRTTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Round(time.Millisecond).Milliseconds()

	h := ms / 3_600_000
	m := (ms % 3_600_000) / 60_000
	s := (ms % 60_000) / 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
