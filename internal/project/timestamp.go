package project

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// ParseTimestamp converts "SS", "MM:SS" or "HH:MM:SS" into whole seconds.
// Fractional seconds are truncated. Only the leading field may reach 60.
func ParseTimestamp(ts string) (int, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	parts := strings.Split(ts, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("timestamp %q has too many components", ts)
	}

	total := 0
	for i, part := range parts {
		var n int
		if i == len(parts)-1 {
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || f < 0 || (i > 0 && f >= 60) {
				return 0, fmt.Errorf("invalid seconds in timestamp %q", ts)
			}
			n = int(f)
		} else {
			v, err := strconv.Atoi(part)
			if err != nil || v < 0 || (i > 0 && v >= 60) {
				return 0, fmt.Errorf("invalid component %q in timestamp %q", part, ts)
			}
			n = v
		}
		total = total*60 + n
	}
	return total, nil
}

// TimestampSeconds is ParseTimestamp for display paths: malformed input
// yields 0 and is logged.
func TimestampSeconds(ts string) int {
	n, err := ParseTimestamp(ts)
	if err != nil {
		slog.Debug("unparseable timestamp", "timestamp", ts, "error", err)
		return 0
	}
	return n
}

// ResolveTimestamps fills the Seconds field of every chapter and transcript
// segment from its start timestamp.
func (a *Analysis) ResolveTimestamps() {
	for i := range a.Chapters {
		a.Chapters[i].Seconds = TimestampSeconds(a.Chapters[i].StartTimestamp)
	}
	for i := range a.Transcript {
		a.Transcript[i].Seconds = TimestampSeconds(a.Transcript[i].StartTimestamp)
	}
}

// FormatSeconds renders seconds as MM:SS, or HH:MM:SS past the hour.
func FormatSeconds(total int) string {
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
