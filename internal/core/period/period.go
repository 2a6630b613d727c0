package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	hourLayout  = "2006010215"
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
	yearLayout  = "2006"
)

// ErrInvalidPeriod is returned when a period id does not match its level's format.
var ErrInvalidPeriod = errors.New("invalid period id")

// Span is the half-open time range [Start, End) covered by one period.
type Span struct {
	Start time.Time
	End   time.Time
}

// Derive returns the canonical period id of the period containing t in loc.
// Raw partitions are hour-granular and share the hour format.
func Derive(level Level, t time.Time, loc *time.Location) (string, error) {
	lt := t.In(location(loc))
	switch level {
	case Raw, Hour:
		return lt.Format(hourLayout), nil
	case Day:
		return lt.Format(dayLayout), nil
	case Week:
		y, w := lt.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w), nil
	case Month:
		return lt.Format(monthLayout), nil
	case Year:
		return lt.Format(yearLayout), nil
	}
	return "", &InvalidLevelError{Level: string(level)}
}

// Parse validates id for level and returns the span it covers in loc.
func Parse(level Level, id string, loc *time.Location) (Span, error) {
	loc = location(loc)

	var layout string
	switch level {
	case Raw, Hour:
		layout = hourLayout
	case Day:
		layout = dayLayout
	case Month:
		layout = monthLayout
	case Year:
		layout = yearLayout
	case Week:
		return parseWeek(id, loc)
	default:
		return Span{}, &InvalidLevelError{Level: string(level)}
	}

	start, err := time.ParseInLocation(layout, id, loc)
	if err != nil || start.Format(layout) != id {
		return Span{}, invalidPeriodf(level, id)
	}

	var end time.Time
	switch level {
	case Raw, Hour:
		end = start.Add(time.Hour)
	case Day:
		end = start.AddDate(0, 0, 1)
	case Month:
		end = start.AddDate(0, 1, 0)
	case Year:
		end = start.AddDate(1, 0, 0)
	}
	return Span{Start: start, End: end}, nil
}

func parseWeek(id string, loc *time.Location) (Span, error) {
	ys, ws, ok := strings.Cut(id, "-W")
	if !ok || len(ys) != 4 || len(ws) != 2 {
		return Span{}, invalidPeriodf(Week, id)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Span{}, invalidPeriodf(Week, id)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w < 1 || w > 53 {
		return Span{}, invalidPeriodf(Week, id)
	}

	monday := isoWeekStart(y, w, loc)
	if gy, gw := monday.ISOWeek(); gy != y || gw != w {
		return Span{}, invalidPeriodf(Week, id)
	}
	return Span{Start: monday, End: monday.AddDate(0, 0, 7)}, nil
}

// isoWeekStart returns Monday 00:00 of ISO week w. January 4th always falls in week 1.
func isoWeekStart(year, week int, loc *time.Location) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset+(week-1)*7)
}

// WeekBounds returns Monday 00:00:00 and Sunday 23:59:59 of an ISO week id such as "2025-W44".
func WeekBounds(id string, loc *time.Location) (time.Time, time.Time, error) {
	span, err := Parse(Week, id, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return span.Start, span.End.Add(-time.Second), nil
}

// Previous returns the most recently fully elapsed period relative to now.
func Previous(level Level, now time.Time, loc *time.Location) (string, error) {
	current, err := Derive(level, now, loc)
	if err != nil {
		return "", err
	}
	span, err := Parse(level, current, loc)
	if err != nil {
		return "", err
	}
	return Derive(level, span.Start.Add(-time.Nanosecond), loc)
}

// Range lists the ids of every period overlapping [from, to], oldest first.
func Range(level Level, from, to time.Time, loc *time.Location) ([]string, error) {
	var out []string
	t := from
	for !t.After(to) {
		id, err := Derive(level, t, loc)
		if err != nil {
			return nil, err
		}
		span, err := Parse(level, id, loc)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1] != id {
			out = append(out, id)
		}
		// A repeated wall-clock hour parses to its first occurrence.
		if !span.End.After(t) {
			t = t.Add(time.Hour)
			continue
		}
		t = span.End
	}
	return out, nil
}

// Last returns the n periods ending with the one containing now, oldest first.
func Last(level Level, now time.Time, n int, loc *time.Location) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	id, err := Derive(level, now, loc)
	if err != nil {
		return nil, err
	}

	out := make([]string, n)
	out[n-1] = id
	for i := n - 2; i >= 0; i-- {
		span, err := Parse(level, out[i+1], loc)
		if err != nil {
			return nil, err
		}
		if out[i], err = Derive(level, span.Start.Add(-time.Nanosecond), loc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Resolve normalizes a user supplied period value to a canonical id for level.
// It accepts a canonical id, a YYYY-MM-DD date or an RFC 3339 instant.
func Resolve(level Level, value string, loc *time.Location) (string, error) {
	value = strings.TrimSpace(value)
	if _, err := Parse(level, value, loc); err == nil {
		return value, nil
	} else if !errors.Is(err, ErrInvalidPeriod) {
		return "", err
	}

	if d, err := time.ParseInLocation(dayLayout, value, location(loc)); err == nil {
		return Derive(level, d, loc)
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return Derive(level, ts, loc)
	}
	return "", invalidPeriodf(level, value)
}

func invalidPeriodf(level Level, id string) error {
	return fmt.Errorf("%w: %s %q", ErrInvalidPeriod, level, id)
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
