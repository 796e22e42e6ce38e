package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ParseDuration parses punishment duration strings of the form 30s, 5m, 2h,
// 1d or 4w. Units larger than an hour are not covered by time.ParseDuration,
// which is why the grammar is handled here.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	var number, unit strings.Builder
	for _, c := range s {
		if unicode.IsDigit(c) {
			if unit.Len() > 0 {
				return 0, fmt.Errorf("invalid duration format: %q", s)
			}
			number.WriteRune(c)
		} else {
			unit.WriteRune(c)
		}
	}

	if number.Len() == 0 || unit.Len() == 0 {
		return 0, fmt.Errorf("invalid duration format: %q", s)
	}

	var value int64
	if _, err := fmt.Sscanf(number.String(), "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %q", s)
	}
	if value <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}

	switch unit.String() {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "w":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %q", unit.String())
	}
}

// FormatDuration renders a duration as a short human-readable string, using
// the two most significant units (e.g. "1w 2d", "3h 15m", "42s").
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}

	// Round up to whole seconds: an active punishment never reads as 0s.
	seconds := int64((d + time.Second - 1) / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	weeks := days / 7

	switch {
	case weeks > 0:
		return fmt.Sprintf("%dw %dd", weeks, days%7)
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
