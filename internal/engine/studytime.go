package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StudyMinutes normalizes a raw studied-time value to fractional minutes.
// The statistics rows carry two historical representations: a plain numeric
// minute count, and an "HH:MM:SS" wall-clock string. Both resolve here,
// before any sorting or display happens.
func StudyMinutes(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		if strings.Contains(s, ":") {
			return parseHMS(s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("study time %q: %w", s, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("study time has unsupported type %T", v)
	}
}

// parseHMS converts "HH:MM:SS" to fractional minutes.
func parseHMS(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("study time %q: want HH:MM:SS", s)
	}
	var units [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("study time %q: want HH:MM:SS", s)
		}
		units[i] = n
	}
	seconds := units[0]*3600 + units[1]*60 + units[2]
	return float64(seconds) / 60, nil
}

// FormatHMS renders fractional minutes as the canonical "HH:MM:SS" string.
func FormatHMS(minutes float64) string {
	if minutes < 0 {
		minutes = 0
	}
	total := int(math.Round(minutes * 60))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
