// Package config loads and validates the rangeload configuration.
package config

import (
	"fmt"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
)

// Config is the validated configuration of a process.
type Config struct {
	Core      Core
	Database  Database
	Load      Load
	Range     Range
	Source    Source
	Backfill  Backfill
	Scheduler Scheduler
	Metrics   Metrics
	OTel      OTel

	// ConfigFileUsed is the path of the file read, if any.
	ConfigFileUsed string
	// Warnings are non-fatal problems found while loading.
	Warnings []string
}

// Core holds process-wide settings.
type Core struct {
	Debug     bool
	LogFormat string
	TZ        string
	Location  *time.Location
}

// Database holds the connection settings.
type Database struct {
	Driver           string
	DSN              string
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	SSLMode          string
	FileLock         bool
	MaxOpenConns     int
	StatementTimeout time.Duration
}

// Load describes the target table.
type Load struct {
	Table                 string
	Columns               core.Schema
	EnableMetadataColumns bool
	ChunkSize             int
	ReplaceColumn         string
	MarkerTable           string
	BulkCopy              bool
}

// Range is the calendar window of the family.
type Range struct {
	Family      string
	Granularity core.Granularity
	Start       time.Time
	Stop        time.Time
	Location    *time.Location
	ParamName   string
}

// Source selects the row source.
type Source struct {
	Path       string
	Format     string
	Query      string
	Delimiter  rune
	HasHeader  bool
	NullValues []string
}

// Backfill tunes gap execution.
type Backfill struct {
	Concurrency int
	TaskLimit   int
	Retry       Retry
}

// Retry configures backoff for transient failures. MaxRetries of zero
// disables retrying.
type Retry struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
	MaxRetries      int
	Jitter          bool
}

// Scheduler configures the scheduler command.
type Scheduler struct {
	Schedule string
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string
}

// OTel configures trace export.
type OTel struct {
	Enabled  bool
	Endpoint string
	Headers  map[string]string
	Insecure bool
	Timeout  time.Duration
	Resource map[string]string
}

// Family returns the task family described by the range settings.
func (c *Config) Family() core.Family {
	return core.Family{
		Name:        c.Range.Family,
		Granularity: c.Range.Granularity,
		Location:    c.Range.Location,
		ParamName:   c.Range.ParamName,
	}
}

// Validate checks settings that do not depend on the command being run.
func (c *Config) Validate() error {
	var errs core.ErrorList

	switch c.Core.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q (expected text or json)", c.Core.LogFormat))
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid database port: %d", c.Database.Port))
	}
	if c.Load.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("load.chunkSize must not be negative"))
	}
	if len(c.Load.Columns) > 0 {
		if err := c.Load.Columns.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("load.columns: %w", err))
		}
	}
	if c.Range.Family != "" {
		if err := core.ValidateFamilyName(c.Range.Family); err != nil {
			errs = append(errs, fmt.Errorf("range.family: %w", err))
		}
	}
	if !c.Range.Stop.IsZero() && !c.Range.Start.IsZero() && !c.Range.Start.Before(c.Range.Stop) {
		errs = append(errs, fmt.Errorf("range.stop must be after range.start"))
	}
	if c.Source.Path != "" && c.Source.Query != "" {
		errs = append(errs, fmt.Errorf("source.path and source.query are mutually exclusive"))
	}
	if c.Backfill.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("backfill.concurrency must not be negative"))
	}
	if c.Backfill.TaskLimit < 0 {
		errs = append(errs, fmt.Errorf("backfill.taskLimit must not be negative"))
	}
	if c.Backfill.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("backfill.retry.maxRetries must not be negative"))
	}
	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		errs = append(errs, fmt.Errorf("otel.endpoint is required when otel is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, errs)
	}
	return nil
}

// ValidateLoad checks the settings required to run a load.
func (c *Config) ValidateLoad() error {
	var errs core.ErrorList
	if c.Database.Driver == "" {
		errs = append(errs, fmt.Errorf("database.driver is required"))
	}
	if c.Load.Table == "" {
		errs = append(errs, fmt.Errorf("load.table is required"))
	}
	if len(c.Load.Columns) == 0 {
		errs = append(errs, fmt.Errorf("load.columns is required"))
	}
	if c.Range.Family == "" {
		errs = append(errs, fmt.Errorf("range.family is required"))
	}
	if c.Source.Path == "" && c.Source.Query == "" {
		errs = append(errs, fmt.Errorf("one of source.path or source.query is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, errs)
	}
	return nil
}

// ValidateRange checks the settings required to enumerate a range.
func (c *Config) ValidateRange() error {
	var errs core.ErrorList
	if c.Database.Driver == "" {
		errs = append(errs, fmt.Errorf("database.driver is required"))
	}
	if c.Load.Table == "" {
		errs = append(errs, fmt.Errorf("load.table is required"))
	}
	if c.Range.Family == "" {
		errs = append(errs, fmt.Errorf("range.family is required"))
	}
	if c.Range.Start.IsZero() {
		errs = append(errs, fmt.Errorf("range.start is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, errs)
	}
	return nil
}
