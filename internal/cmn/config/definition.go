package config

// Definition is the raw configuration as read from the YAML file and the
// environment. Each field maps to a configuration key. It is converted into
// a Config by the loader.
type Definition struct {
	// Debug enables debug logging with source locations.
	Debug bool `mapstructure:"debug"`

	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"logFormat"`

	// TZ is the default zone for range boundaries, e.g. "Asia/Tokyo".
	TZ string `mapstructure:"tz"`

	Database *DatabaseDef `mapstructure:"database"`
	Load     *LoadDef     `mapstructure:"load"`
	Range    *RangeDef    `mapstructure:"range"`
	Source   *SourceDef   `mapstructure:"source"`
	Backfill *BackfillDef `mapstructure:"backfill"`

	Scheduler *SchedulerDef `mapstructure:"scheduler"`
	Metrics   *MetricsDef   `mapstructure:"metrics"`
	OTel      *OTelDef      `mapstructure:"otel"`
}

// DatabaseDef holds the connection settings.
type DatabaseDef struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslMode"`
	FileLock bool   `mapstructure:"fileLock"`

	// MaxOpenConns caps the connection pool.
	MaxOpenConns int `mapstructure:"maxOpenConns"`

	// StatementTimeout bounds a single load run, e.g. "10m".
	StatementTimeout string `mapstructure:"statementTimeout"`
}

// LoadDef describes the target table of a load.
type LoadDef struct {
	Table string `mapstructure:"table"`

	// Columns accepts a list of {name, type} maps or, from the environment,
	// a string such as "id:INTEGER,amount:NUMERIC".
	Columns []ColumnDef `mapstructure:"columns"`

	EnableMetadataColumns bool   `mapstructure:"enableMetadataColumns"`
	ChunkSize             int    `mapstructure:"chunkSize"`
	ReplaceColumn         string `mapstructure:"replaceColumn"`
	MarkerTable           string `mapstructure:"markerTable"`
	BulkCopy              bool   `mapstructure:"bulkCopy"`
}

// ColumnDef is one target column.
type ColumnDef struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

// RangeDef is the calendar window scanned for gaps.
type RangeDef struct {
	Family      string `mapstructure:"family"`
	Granularity string `mapstructure:"granularity"`
	// Start and Stop are dates ("2015-01-02"), hours ("2015-01-02T15") or
	// RFC 3339 timestamps.
	Start     string `mapstructure:"start"`
	Stop      string `mapstructure:"stop"`
	TZ        string `mapstructure:"tz"`
	ParamName string `mapstructure:"paramName"`
}

// SourceDef selects where rows come from. Path and Query are exclusive.
type SourceDef struct {
	Path       string   `mapstructure:"path"`
	Format     string   `mapstructure:"format"`
	Query      string   `mapstructure:"query"`
	Delimiter  string   `mapstructure:"delimiter"`
	HasHeader  *bool    `mapstructure:"hasHeader"`
	NullValues []string `mapstructure:"nullValues"`
}

// BackfillDef tunes gap execution.
type BackfillDef struct {
	Concurrency int       `mapstructure:"concurrency"`
	TaskLimit   int       `mapstructure:"taskLimit"`
	Retry       *RetryDef `mapstructure:"retry"`
}

// RetryDef configures exponential backoff for transient failures.
type RetryDef struct {
	InitialInterval string  `mapstructure:"initialInterval"`
	MaxInterval     string  `mapstructure:"maxInterval"`
	BackoffFactor   float64 `mapstructure:"backoffFactor"`
	MaxRetries      int     `mapstructure:"maxRetries"`
	Jitter          bool    `mapstructure:"jitter"`
}

// SchedulerDef configures the long-running scheduler command.
type SchedulerDef struct {
	// Schedule is a cron expression, e.g. "*/15 * * * *".
	Schedule string `mapstructure:"schedule"`
}

// MetricsDef configures the Prometheus endpoint.
type MetricsDef struct {
	Addr string `mapstructure:"addr"`
}

// OTelDef configures trace export.
type OTelDef struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Headers  map[string]string `mapstructure:"headers"`
	Insecure bool              `mapstructure:"insecure"`
	Timeout  string            `mapstructure:"timeout"`
	Resource map[string]string `mapstructure:"resource"`
}
