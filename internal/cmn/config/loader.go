package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/adrg/xdg"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RANGELOAD_DATABASE_DSN.
const EnvPrefix = "RANGELOAD"

// ConfigLoader reads and merges configuration from a YAML file and the
// environment.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	envFiles   []string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile sets the configuration file path. Without it the loader
// looks for config.yaml in the working directory and in
// $XDG_CONFIG_HOME/rangeload.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithEnvFiles loads dotenv files before environment overrides are read.
// Variables already set in the process take precedence.
func WithEnvFiles(files ...string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.envFiles = append(l.envFiles, files...)
	}
}

// NewConfigLoader returns a loader backed by v.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration file, applies defaults and environment
// overrides, and returns a validated Config.
func (l *ConfigLoader) Load() (*Config, error) {
	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	l.configureViper()
	l.bindEnvironmentVariables()
	l.setViperDefaultValues()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		columnsHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	cfg.ConfigFileUsed = l.v.ConfigFileUsed()
	cfg.Warnings = l.warnings
	return cfg, nil
}

func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	cfg := Config{}

	if err := l.loadCoreConfig(&cfg, def); err != nil {
		return nil, err
	}
	l.loadDatabaseConfig(&cfg, def)
	l.loadLoadConfig(&cfg, def)
	if err := l.loadRangeConfig(&cfg, def); err != nil {
		return nil, err
	}
	if err := l.loadSourceConfig(&cfg, def); err != nil {
		return nil, err
	}
	l.loadBackfillConfig(&cfg, def)
	if def.Scheduler != nil {
		cfg.Scheduler.Schedule = def.Scheduler.Schedule
	}
	if def.Metrics != nil {
		cfg.Metrics.Addr = def.Metrics.Addr
	}
	l.loadOTelConfig(&cfg, def)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *ConfigLoader) loadCoreConfig(cfg *Config, def Definition) error {
	cfg.Core.Debug = def.Debug
	cfg.Core.LogFormat = strings.ToLower(def.LogFormat)
	cfg.Core.TZ = def.TZ
	loc, err := loadLocation(def.TZ)
	if err != nil {
		return err
	}
	cfg.Core.Location = loc
	return nil
}

func (l *ConfigLoader) loadDatabaseConfig(cfg *Config, def Definition) {
	if def.Database == nil {
		return
	}
	d := def.Database
	cfg.Database = Database{
		Driver:       strings.ToLower(d.Driver),
		DSN:          d.DSN,
		Host:         d.Host,
		Port:         d.Port,
		Name:         d.Name,
		User:         d.User,
		Password:     d.Password,
		SSLMode:      d.SSLMode,
		FileLock:     d.FileLock,
		MaxOpenConns: d.MaxOpenConns,
	}
	cfg.Database.StatementTimeout = l.parseDuration("database.statementTimeout", d.StatementTimeout)
}

func (l *ConfigLoader) loadLoadConfig(cfg *Config, def Definition) {
	if def.Load == nil {
		return
	}
	d := def.Load
	cfg.Load = Load{
		Table:                 d.Table,
		EnableMetadataColumns: d.EnableMetadataColumns,
		ChunkSize:             d.ChunkSize,
		ReplaceColumn:         d.ReplaceColumn,
		MarkerTable:           d.MarkerTable,
		BulkCopy:              d.BulkCopy,
	}
	for _, c := range d.Columns {
		cfg.Load.Columns = append(cfg.Load.Columns, core.Column{Name: c.Name, Type: c.Type})
	}
	if d.BulkCopy && cfg.Database.Driver != "" && cfg.Database.Driver != "postgres" {
		l.warnings = append(l.warnings, fmt.Sprintf("load.bulkCopy is not supported by driver %q; multi-row INSERT is used", cfg.Database.Driver))
	}
}

func (l *ConfigLoader) loadRangeConfig(cfg *Config, def Definition) error {
	cfg.Range.Location = cfg.Core.Location
	if def.Range == nil {
		return nil
	}
	d := def.Range

	g, err := core.ParseGranularity(d.Granularity)
	if err != nil {
		return fmt.Errorf("range.granularity: %w", err)
	}
	cfg.Range.Family = d.Family
	cfg.Range.Granularity = g
	cfg.Range.ParamName = d.ParamName

	if d.TZ != "" {
		loc, err := loadLocation(d.TZ)
		if err != nil {
			return fmt.Errorf("range.tz: %w", err)
		}
		cfg.Range.Location = loc
	}

	if cfg.Range.Start, err = ParseTime(d.Start, cfg.Range.Location); err != nil {
		return fmt.Errorf("range.start: %w", err)
	}
	if cfg.Range.Stop, err = ParseTime(d.Stop, cfg.Range.Location); err != nil {
		return fmt.Errorf("range.stop: %w", err)
	}
	return nil
}

func (l *ConfigLoader) loadSourceConfig(cfg *Config, def Definition) error {
	cfg.Source.HasHeader = true
	if def.Source == nil {
		return nil
	}
	d := def.Source
	cfg.Source.Path = d.Path
	cfg.Source.Format = strings.ToLower(d.Format)
	cfg.Source.Query = d.Query
	cfg.Source.NullValues = d.NullValues
	if d.HasHeader != nil {
		cfg.Source.HasHeader = *d.HasHeader
	}

	switch d.Delimiter {
	case "":
	case `\t`, "tab":
		cfg.Source.Delimiter = '\t'
	default:
		if utf8.RuneCountInString(d.Delimiter) != 1 {
			return fmt.Errorf("source.delimiter must be a single character, got %q", d.Delimiter)
		}
		cfg.Source.Delimiter, _ = utf8.DecodeRuneInString(d.Delimiter)
	}
	return nil
}

func (l *ConfigLoader) loadBackfillConfig(cfg *Config, def Definition) {
	cfg.Backfill = Backfill{
		Concurrency: 1,
		Retry: Retry{
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			BackoffFactor:   2,
		},
	}
	if def.Backfill == nil {
		return
	}
	d := def.Backfill
	if d.Concurrency != 0 {
		cfg.Backfill.Concurrency = d.Concurrency
	}
	cfg.Backfill.TaskLimit = d.TaskLimit

	if r := d.Retry; r != nil {
		if v := l.parseDuration("backfill.retry.initialInterval", r.InitialInterval); v > 0 {
			cfg.Backfill.Retry.InitialInterval = v
		}
		if v := l.parseDuration("backfill.retry.maxInterval", r.MaxInterval); v > 0 {
			cfg.Backfill.Retry.MaxInterval = v
		}
		if r.BackoffFactor > 0 {
			cfg.Backfill.Retry.BackoffFactor = r.BackoffFactor
		}
		cfg.Backfill.Retry.MaxRetries = r.MaxRetries
		cfg.Backfill.Retry.Jitter = r.Jitter
	}
}

func (l *ConfigLoader) loadOTelConfig(cfg *Config, def Definition) {
	if def.OTel == nil {
		return
	}
	d := def.OTel
	cfg.OTel = OTel{
		Enabled:  d.Enabled,
		Endpoint: d.Endpoint,
		Headers:  d.Headers,
		Insecure: d.Insecure,
		Resource: d.Resource,
		Timeout:  l.parseDuration("otel.timeout", d.Timeout),
	}
}

// parseDuration returns zero and records a warning when value is invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s: %q", fieldName, value))
		return 0
	}
	return d
}

func (l *ConfigLoader) configureViper() {
	if l.configFile == "" {
		l.v.AddConfigPath(".")
		l.v.AddConfigPath(filepath.Join(xdg.ConfigHome, "rangeload"))
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func (l *ConfigLoader) setViperDefaultValues() {
	l.v.SetDefault("debug", false)
	l.v.SetDefault("logFormat", "text")
	l.v.SetDefault("database.driver", "postgres")
	l.v.SetDefault("load.markerTable", "table_updates")
	l.v.SetDefault("range.granularity", "daily")
	l.v.SetDefault("backfill.concurrency", 1)
}

type envBinding struct {
	key string
	env string
}

// envBindings lists the keys that can be set from the environment. Unmarshal
// only sees keys viper knows about, so every key is bound explicitly.
var envBindings = []envBinding{
	{key: "debug", env: "DEBUG"},
	{key: "logFormat", env: "LOG_FORMAT"},
	{key: "tz", env: "TZ"},

	{key: "database.driver", env: "DATABASE_DRIVER"},
	{key: "database.dsn", env: "DATABASE_DSN"},
	{key: "database.host", env: "DATABASE_HOST"},
	{key: "database.port", env: "DATABASE_PORT"},
	{key: "database.name", env: "DATABASE_NAME"},
	{key: "database.user", env: "DATABASE_USER"},
	{key: "database.password", env: "DATABASE_PASSWORD"},
	{key: "database.sslMode", env: "DATABASE_SSL_MODE"},
	{key: "database.fileLock", env: "DATABASE_FILE_LOCK"},
	{key: "database.maxOpenConns", env: "DATABASE_MAX_OPEN_CONNS"},
	{key: "database.statementTimeout", env: "DATABASE_STATEMENT_TIMEOUT"},

	{key: "load.table", env: "LOAD_TABLE"},
	{key: "load.columns", env: "LOAD_COLUMNS"},
	{key: "load.enableMetadataColumns", env: "LOAD_ENABLE_METADATA_COLUMNS"},
	{key: "load.chunkSize", env: "LOAD_CHUNK_SIZE"},
	{key: "load.replaceColumn", env: "LOAD_REPLACE_COLUMN"},
	{key: "load.markerTable", env: "LOAD_MARKER_TABLE"},
	{key: "load.bulkCopy", env: "LOAD_BULK_COPY"},

	{key: "range.family", env: "RANGE_FAMILY"},
	{key: "range.granularity", env: "RANGE_GRANULARITY"},
	{key: "range.start", env: "RANGE_START"},
	{key: "range.stop", env: "RANGE_STOP"},
	{key: "range.tz", env: "RANGE_TZ"},
	{key: "range.paramName", env: "RANGE_PARAM_NAME"},

	{key: "source.path", env: "SOURCE_PATH"},
	{key: "source.format", env: "SOURCE_FORMAT"},
	{key: "source.query", env: "SOURCE_QUERY"},
	{key: "source.delimiter", env: "SOURCE_DELIMITER"},
	{key: "source.hasHeader", env: "SOURCE_HAS_HEADER"},
	{key: "source.nullValues", env: "SOURCE_NULL_VALUES"},

	{key: "backfill.concurrency", env: "BACKFILL_CONCURRENCY"},
	{key: "backfill.taskLimit", env: "BACKFILL_TASK_LIMIT"},
	{key: "backfill.retry.initialInterval", env: "BACKFILL_RETRY_INITIAL_INTERVAL"},
	{key: "backfill.retry.maxInterval", env: "BACKFILL_RETRY_MAX_INTERVAL"},
	{key: "backfill.retry.backoffFactor", env: "BACKFILL_RETRY_BACKOFF_FACTOR"},
	{key: "backfill.retry.maxRetries", env: "BACKFILL_RETRY_MAX_RETRIES"},
	{key: "backfill.retry.jitter", env: "BACKFILL_RETRY_JITTER"},

	{key: "scheduler.schedule", env: "SCHEDULER_SCHEDULE"},
	{key: "metrics.addr", env: "METRICS_ADDR"},

	{key: "otel.enabled", env: "OTEL_ENABLED"},
	{key: "otel.endpoint", env: "OTEL_ENDPOINT"},
	{key: "otel.insecure", env: "OTEL_INSECURE"},
	{key: "otel.timeout", env: "OTEL_TIMEOUT"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	for _, b := range envBindings {
		_ = l.v.BindEnv(b.key, EnvPrefix+"_"+b.env)
	}
}

// columnsHook decodes "name:TYPE,name:TYPE" into column definitions.
func columnsHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf([]ColumnDef{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != target {
			return data, nil
		}
		return ParseColumns(data.(string))
	}
}

// ParseColumns parses a comma-separated list of name:TYPE pairs.
func ParseColumns(s string) ([]ColumnDef, error) {
	var cols []ColumnDef
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(typ) == "" {
			return nil, fmt.Errorf("invalid column %q (expected name:TYPE)", part)
		}
		cols = append(cols, ColumnDef{Name: strings.TrimSpace(name), Type: strings.TrimSpace(typ)})
	}
	return cols, nil
}

// ParseTime parses a range bound in loc. It accepts dates, hours
// ("2015-01-02T15"), minutes and RFC 3339 timestamps. The empty string
// yields the zero time.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{time.DateOnly, "2006-01-02T15", "2006-01-02T15:04", time.DateTime} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}
	return loc, nil
}
