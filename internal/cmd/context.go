// Package cmd implements the rangeload command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/backoff"
	"github.com/dagu-org/rangeload/internal/cmn/config"
	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
	"github.com/dagu-org/rangeload/internal/loader"
	"github.com/dagu-org/rangeload/internal/marker"
	"github.com/dagu-org/rangeload/internal/metrics"
	"github.com/dagu-org/rangeload/internal/otel"
	"github.com/dagu-org/rangeload/internal/rangesched"
	"github.com/dagu-org/rangeload/internal/source"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Register database drivers.
	_ "github.com/dagu-org/rangeload/internal/database/drivers/postgres"
	_ "github.com/dagu-org/rangeload/internal/database/drivers/sqlite"
)

// Context holds the configuration and shared services of a command.
type Context struct {
	context.Context

	Command  *cobra.Command
	Config   *config.Config
	Quiet    bool
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	tracer *otel.Tracer
}

// NewContext loads the configuration, sets up the logger context and the
// telemetry, and logs any warnings collected while loading.
func NewContext(cmd *cobra.Command, _ []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath := stringFlag(cmd, "config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	if envFile := stringFlag(cmd, "env-file"); envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFiles(envFile))
	}

	cfg, err := config.NewConfigLoader(viper.New(), loaderOpts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var opts []logger.Option
	if cfg.Core.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if cfg.Core.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.Core.LogFormat))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}
	if cfg.ConfigFileUsed != "" {
		logger.Debug(ctx, "Configuration loaded", tag.File(cfg.ConfigFileUsed))
	}

	tracer, err := otel.NewTracer(ctx, &otel.Config{
		Enabled:  cfg.OTel.Enabled,
		Endpoint: cfg.OTel.Endpoint,
		Headers:  cfg.OTel.Headers,
		Insecure: cfg.OTel.Insecure,
		Timeout:  cfg.OTel.Timeout,
		Resource: cfg.OTel.Resource,
	}, config.Version)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Context{
		Context:  ctx,
		Command:  cmd,
		Config:   cfg,
		Quiet:    quiet,
		Registry: registry,
		Metrics:  metrics.NewRecorder(registry),
		tracer:   tracer,
	}, nil
}

// Close flushes pending spans.
func (c *Context) Close() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Context), 5*time.Second)
	defer cancel()
	return c.tracer.Shutdown(ctx)
}

// OpenSession connects to the configured database.
func (c *Context) OpenSession() (*database.Session, error) {
	db := c.Config.Database
	session, err := database.Open(c, &database.Config{
		Driver:       db.Driver,
		DSN:          db.DSN,
		Host:         db.Host,
		Port:         db.Port,
		Database:     db.Name,
		User:         db.User,
		Password:     db.Password,
		SSLMode:      db.SSLMode,
		FileLock:     db.FileLock,
		MaxOpenConns: db.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(c, "Database session opened", tag.Driver(db.Driver))
	return session, nil
}

// Family returns the configured task family.
func (c *Context) Family() (core.Family, error) {
	f := c.Config.Family()
	if err := f.Validate(); err != nil {
		return core.Family{}, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	return f, nil
}

// Range returns the configured range with the --start and --stop flags
// applied.
func (c *Context) Range() (rangesched.Range, error) {
	f, err := c.Family()
	if err != nil {
		return rangesched.Range{}, err
	}
	r := rangesched.Range{
		Family: f,
		Table:  c.Config.Load.Table,
		Start:  c.Config.Range.Start,
		Stop:   c.Config.Range.Stop,
	}
	if v := c.flag("start"); v != "" {
		if r.Start, err = config.ParseTime(v, f.Loc()); err != nil {
			return rangesched.Range{}, fmt.Errorf("%w: --start: %w", core.ErrInvalidConfig, err)
		}
	}
	if v := c.flag("stop"); v != "" {
		if r.Stop, err = config.ParseTime(v, f.Loc()); err != nil {
			return rangesched.Range{}, fmt.Errorf("%w: --stop: %w", core.ErrInvalidConfig, err)
		}
	}
	if r.Start.IsZero() {
		return rangesched.Range{}, fmt.Errorf("%w: range start is required", core.ErrInvalidConfig)
	}
	return r, nil
}

// Now returns the --now flag or the current time.
func (c *Context) Now() (time.Time, error) {
	v := c.flag("now")
	if v == "" {
		return time.Now(), nil
	}
	t, err := config.ParseTime(v, c.Config.Range.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --now: %w", core.ErrInvalidConfig, err)
	}
	return t, nil
}

func (c *Context) flag(name string) string {
	if c.Command.Flags().Lookup(name) == nil {
		return ""
	}
	return stringFlag(c.Command, name)
}

// LoadOptions converts the load settings into loader options.
func (c *Context) LoadOptions() loader.Options {
	l := c.Config.Load
	return loader.Options{
		Table:                 l.Table,
		Columns:               l.Columns,
		EnableMetadataColumns: l.EnableMetadataColumns,
		ChunkSize:             l.ChunkSize,
		ReplaceColumn:         l.ReplaceColumn,
		MarkerTable:           l.MarkerTable,
		BulkCopy:              l.BulkCopy,
	}
}

// RowSource returns the configured row source. Query sources read through
// session.
func (c *Context) RowSource(session *database.Session) (source.RowSource, error) {
	s := c.Config.Source
	if s.Query != "" {
		return source.NewQuerySource(session, s.Query)
	}
	if s.Path == "" {
		return nil, fmt.Errorf("%w: one of source.path or source.query is required", core.ErrInvalidConfig)
	}

	format := s.Format
	if format == "" {
		format = source.DetectFormat(s.Path)
	}
	opts := source.DefaultInputOptions(format)
	opts.HasHeader = s.HasHeader
	opts.Columns = c.Config.Load.Columns.Names()
	if s.Delimiter != 0 {
		opts.Delimiter = s.Delimiter
	}
	if len(s.NullValues) > 0 {
		opts.NullValues = s.NullValues
	}
	return source.NewFileSource(s.Path, format, opts)
}

// RetryPolicy returns the backoff policy for transient failures.
func (c *Context) RetryPolicy() backoff.RetryPolicy {
	r := c.Config.Backfill.Retry
	if r.MaxRetries <= 0 {
		return backoff.NoRetry
	}
	policy := backoff.NewExponentialBackoffPolicy(r.InitialInterval)
	policy.BackoffFactor = r.BackoffFactor
	policy.MaxInterval = r.MaxInterval
	policy.MaxRetries = r.MaxRetries
	if r.Jitter {
		return backoff.WithJitter(policy, backoff.FullJitter)
	}
	return policy
}

// MarkerStore returns the marker store of the configured marker table.
func (c *Context) MarkerStore(session *database.Session) *marker.Store {
	return marker.New(session, marker.WithTableName(c.Config.Load.MarkerTable))
}

// NewTask builds the load task for inst.
func (c *Context) NewTask(session *database.Session, src source.RowSource, inst core.Instance) (*loader.Task, error) {
	return loader.NewTask(session, inst, src, c.LoadOptions(), loader.WithObserver(c.Metrics))
}

// TaskFactory returns a factory of load tasks on session, bounded by the
// configured statement timeout.
func (c *Context) TaskFactory(session *database.Session) (rangesched.TaskFactory, error) {
	src, err := c.RowSource(session)
	if err != nil {
		return nil, err
	}
	timeout := c.Config.Database.StatementTimeout
	return func(inst core.Instance) (rangesched.Runner, error) {
		task, err := c.NewTask(session, src, inst)
		if err != nil {
			return nil, err
		}
		return withTimeout(task, timeout), nil
	}, nil
}

// Backfill returns a backfill over session using the configured options.
func (c *Context) Backfill(session *database.Session) (*rangesched.Backfill, error) {
	factory, err := c.TaskFactory(session)
	if err != nil {
		return nil, err
	}
	scheduler := rangesched.New(
		c.MarkerStore(session),
		rangesched.WithPassObserver(c.Metrics),
	)
	taskLimit := c.Config.Backfill.TaskLimit
	if v := c.flag("task-limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &taskLimit); err != nil || taskLimit < 0 {
			return nil, fmt.Errorf("%w: invalid --task-limit %q", core.ErrInvalidConfig, v)
		}
	}
	return rangesched.NewBackfill(scheduler, factory, rangesched.BackfillOptions{
		Concurrency: c.Config.Backfill.Concurrency,
		TaskLimit:   taskLimit,
		RetryPolicy: c.RetryPolicy(),
	}), nil
}

type timeoutRunner struct {
	runner  rangesched.Runner
	timeout time.Duration
}

func withTimeout(r rangesched.Runner, timeout time.Duration) rangesched.Runner {
	if timeout <= 0 {
		return r
	}
	return &timeoutRunner{runner: r, timeout: timeout}
}

func (r *timeoutRunner) Run(ctx context.Context) (*loader.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.runner.Run(ctx)
}

// NewCommand wires runFunc into cmd with a Context built from the flags.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(ctx *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)
	cmd.SilenceUsage = true

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			return fmt.Errorf("initialization error: %w", err)
		}
		defer func() { _ = ctx.Close() }()

		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx, "Command failed", tag.Error(err))
			return err
		}
		return nil
	}
	return cmd
}

// palette colors CLI output only when it goes to a terminal and --quiet is
// not set. color.NoColor already covers NO_COLOR and non-TTY stdout.
func (c *Context) palette() palette {
	return palette{enabled: !c.Quiet && !color.NoColor && c.Command.OutOrStdout() == os.Stdout}
}
