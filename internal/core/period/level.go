package period

import (
	"fmt"
	"strings"
)

// Level is the granularity of a rollup partition.
type Level string

const (
	Raw   Level = "raw"
	Hour  Level = "hour"
	Day   Level = "day"
	Week  Level = "week"
	Month Level = "month"
	Year  Level = "year"
)

// modes maps each rollup level to the trigger/dashboard mode name.
var modes = map[Level]string{
	Hour:  "hourly",
	Day:   "daily",
	Week:  "weekly",
	Month: "monthly",
	Year:  "yearly",
}

// InvalidLevelError reports a level that has no place in the rollup chain.
type InvalidLevelError struct {
	Level string
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("invalid level %q", e.Level)
}

// ParseLevel accepts a level name ("day") or a mode name ("daily").
func ParseLevel(s string) (Level, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == string(Raw) {
		return Raw, nil
	}
	for level, mode := range modes {
		if v == string(level) || v == mode {
			return level, nil
		}
	}
	return "", &InvalidLevelError{Level: s}
}

// Mode returns the trigger mode name, e.g. "daily" for Day.
func (l Level) Mode() string {
	if m, ok := modes[l]; ok {
		return m
	}
	return string(l)
}

// Valid reports whether l is one of the known levels, raw included.
func (l Level) Valid() bool {
	if l == Raw {
		return true
	}
	_, ok := modes[l]
	return ok
}
