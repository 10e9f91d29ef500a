package core

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the calendar unit at which task instances are parameterized.
type Granularity int

const (
	// Daily instances start at local midnight.
	Daily Granularity = iota
	// Hourly instances start at the top of each local hour.
	Hourly
)

// String returns the canonical lowercase token for the granularity.
func (g Granularity) String() string {
	switch g {
	case Hourly:
		return "hourly"
	default:
		return "daily"
	}
}

// ParseGranularity parses a string into a Granularity.
// The comparison is case-insensitive; the empty string means daily.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "day":
		return Daily, nil
	case "hourly", "hour":
		return Hourly, nil
	default:
		return Daily, fmt.Errorf("unknown granularity: %q (expected daily or hourly)", s)
	}
}

// Layout is the time layout used to render an instance parameter.
func (g Granularity) Layout() string {
	if g == Hourly {
		return "2006-01-02T15"
	}
	return time.DateOnly
}

// ParamName is the default parameter name for instances of this granularity.
func (g Granularity) ParamName() string {
	if g == Hourly {
		return "hour"
	}
	return "date"
}

// Truncate returns the start of the unit containing t, evaluated in loc.
// Wall-clock fields are used so zones with non-hour offsets stay aligned.
func (g Granularity) Truncate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	if g == Hourly {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Ceil returns t when it is already on a boundary, otherwise the next boundary.
func (g Granularity) Ceil(t time.Time, loc *time.Location) time.Time {
	floor := g.Truncate(t, loc)
	if floor.Equal(t) {
		return floor
	}
	return g.Next(floor)
}

// Next returns the boundary following t. t must already be truncated.
func (g Granularity) Next(t time.Time) time.Time {
	if g == Hourly {
		return t.Add(time.Hour)
	}
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// Parse parses an instance parameter rendered with Layout.
func (g Granularity) Parse(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(g.Layout(), value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value %q: %w", g.ParamName(), value, err)
	}
	return t, nil
}
