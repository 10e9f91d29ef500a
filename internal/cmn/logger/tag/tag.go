// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Core identification tags

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Family creates a tag for task family names.
func Family(name string) slog.Attr {
	return slog.String("family", name)
}

// Identity creates a tag for task identities.
func Identity(id string) slog.Attr {
	return slog.String("identity", id)
}

// LoadID creates a tag for the id of one load attempt.
func LoadID(id string) slog.Attr {
	return slog.String("load-id", id)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Database tags

// Driver creates a tag for database driver names.
func Driver(name string) slog.Attr {
	return slog.String("driver", name)
}

// Table creates a tag for target table names.
func Table(name string) slog.Attr {
	return slog.String("table", name)
}

// MarkerTable creates a tag for marker table names.
func MarkerTable(name string) slog.Attr {
	return slog.String("marker-table", name)
}

// Column creates a tag for column names.
func Column(name string) slog.Attr {
	return slog.String("column", name)
}

// Rows creates a tag for row counts.
func Rows(n int64) slog.Attr {
	return slog.Int64("rows", n)
}

// Batch creates a tag for batch sequence numbers.
func Batch(n int) slog.Attr {
	return slog.Int("batch", n)
}

// BatchSize creates a tag for the number of rows per batch.
func BatchSize(n int) slog.Attr {
	return slog.Int("batch-size", n)
}

// Range and scheduling tags

// Date creates a tag for instance parameter values.
func Date(value string) slog.Attr {
	return slog.String("date", value)
}

// Granularity creates a tag for range granularities.
func Granularity(g string) slog.Attr {
	return slog.String("granularity", g)
}

// Start creates a tag for the lower bound of a window.
func Start(t time.Time) slog.Attr {
	return slog.Time("start", t)
}

// Now creates a tag for the evaluation time of a window.
func Now(t time.Time) slog.Attr {
	return slog.Time("now", t)
}

// Candidates creates a tag for the number of instances in a window.
func Candidates(n int) slog.Attr {
	return slog.Int("candidates", n)
}

// Missing creates a tag for the number of instances without a marker.
func Missing(n int) slog.Attr {
	return slog.Int("missing", n)
}

// Schedule creates a tag for cron expressions.
func Schedule(s string) slog.Attr {
	return slog.String("schedule", s)
}

// NextRun creates a tag for the next scheduled run time.
func NextRun(t time.Time) slog.Attr {
	return slog.Time("next-run", t)
}

// Execution tags

// Status creates a tag for status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Duration creates a tag for durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Interval creates a tag for retry intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// MaxRetries creates a tag for maximum retry count.
func MaxRetries(n int) slog.Attr {
	return slog.Int("max-retries", n)
}

// Concurrency creates a tag for worker pool sizes.
func Concurrency(n int) slog.Attr {
	return slog.Int("concurrency", n)
}

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Path and network tags

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Addr creates a tag for listen addresses.
func Addr(addr string) slog.Attr {
	return slog.String("addr", addr)
}

// Endpoint creates a tag for exporter endpoints.
func Endpoint(ep string) slog.Attr {
	return slog.String("endpoint", ep)
}

// Version creates a tag for version strings.
func Version(v string) slog.Attr {
	return slog.String("version", v)
}

// Reason creates a tag for explanations.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}
