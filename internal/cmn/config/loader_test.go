package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func testLoad(t *testing.T, opts ...ConfigLoaderOption) *Config {
	t.Helper()
	cfg, err := NewConfigLoader(viper.New(), opts...).Load()
	require.NoError(t, err)
	return cfg
}

func testLoadWithError(t *testing.T, opts ...ConfigLoaderOption) error {
	t.Helper()
	_, err := NewConfigLoader(viper.New(), opts...).Load()
	return err
}

const fullConfig = `
debug: true
logFormat: json
tz: UTC
database:
  driver: postgres
  host: db.internal
  port: 5432
  name: warehouse
  user: loader
  password: secret
  sslMode: require
  maxOpenConns: 8
  statementTimeout: 10m
load:
  table: events
  columns:
    - name: id
      type: BIGINT
    - name: payload
      type: TEXT
  enableMetadataColumns: true
  chunkSize: 1000
  replaceColumn: id
range:
  family: EventsImport
  granularity: hourly
  start: "2015-01-02"
  stop: "2015-01-07T12"
  tz: Asia/Tokyo
source:
  path: "/data/events/{{ .Date }}.csv"
  format: csv
  delimiter: ";"
  hasHeader: false
  nullValues: ["", "NA"]
backfill:
  concurrency: 4
  taskLimit: 10
  retry:
    initialInterval: 2s
    maxInterval: 30s
    maxRetries: 3
    jitter: true
scheduler:
  schedule: "*/15 * * * *"
metrics:
  addr: ":9464"
otel:
  enabled: true
  endpoint: "collector:4317"
  insecure: true
  timeout: 5s
  headers:
    x-team: data
`

func TestLoad_File(t *testing.T) {
	cfg := testLoad(t, WithConfigFile(writeConfig(t, fullConfig)))
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	assert.True(t, cfg.Core.Debug)
	assert.Equal(t, "json", cfg.Core.LogFormat)
	assert.Equal(t, time.UTC, cfg.Core.Location)

	assert.Equal(t, Database{
		Driver:           "postgres",
		Host:             "db.internal",
		Port:             5432,
		Name:             "warehouse",
		User:             "loader",
		Password:         "secret",
		SSLMode:          "require",
		MaxOpenConns:     8,
		StatementTimeout: 10 * time.Minute,
	}, cfg.Database)

	assert.Equal(t, Load{
		Table:                 "events",
		Columns:               core.Schema{{Name: "id", Type: "BIGINT"}, {Name: "payload", Type: "TEXT"}},
		EnableMetadataColumns: true,
		ChunkSize:             1000,
		ReplaceColumn:         "id",
		MarkerTable:           "table_updates",
	}, cfg.Load)

	assert.Equal(t, "EventsImport", cfg.Range.Family)
	assert.Equal(t, core.Hourly, cfg.Range.Granularity)
	assert.Equal(t, "Asia/Tokyo", cfg.Range.Location.String())
	assert.True(t, cfg.Range.Start.Equal(time.Date(2015, 1, 2, 0, 0, 0, 0, tokyo)))
	assert.True(t, cfg.Range.Stop.Equal(time.Date(2015, 1, 7, 12, 0, 0, 0, tokyo)))

	assert.Equal(t, Source{
		Path:       "/data/events/{{ .Date }}.csv",
		Format:     "csv",
		Delimiter:  ';',
		HasHeader:  false,
		NullValues: []string{"", "NA"},
	}, cfg.Source)

	assert.Equal(t, Backfill{
		Concurrency: 4,
		TaskLimit:   10,
		Retry: Retry{
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
			BackoffFactor:   2,
			MaxRetries:      3,
			Jitter:          true,
		},
	}, cfg.Backfill)

	assert.Equal(t, "*/15 * * * *", cfg.Scheduler.Schedule)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, "collector:4317", cfg.OTel.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.OTel.Timeout)
	assert.Equal(t, map[string]string{"x-team": "data"}, cfg.OTel.Headers)
	assert.Empty(t, cfg.Warnings)

	family := cfg.Family()
	assert.Equal(t, "EventsImport", family.Name)
	assert.Equal(t, "Asia/Tokyo", family.Location.String())
}

func TestLoad_Defaults(t *testing.T) {
	cfg := testLoad(t, WithConfigFile(writeConfig(t, "# empty")))

	assert.False(t, cfg.Core.Debug)
	assert.Equal(t, "text", cfg.Core.LogFormat)
	assert.Equal(t, time.UTC, cfg.Core.Location)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "table_updates", cfg.Load.MarkerTable)
	assert.Equal(t, core.Daily, cfg.Range.Granularity)
	assert.True(t, cfg.Source.HasHeader)
	assert.Equal(t, 1, cfg.Backfill.Concurrency)
	assert.Equal(t, time.Second, cfg.Backfill.Retry.InitialInterval)
	assert.Zero(t, cfg.Backfill.Retry.MaxRetries)
}

func TestLoad_Env(t *testing.T) {
	envs := map[string]string{
		"RANGELOAD_LOG_FORMAT":                 "json",
		"RANGELOAD_DATABASE_DRIVER":            "sqlite",
		"RANGELOAD_DATABASE_DSN":               "/var/lib/rangeload/loads.db",
		"RANGELOAD_DATABASE_FILE_LOCK":         "true",
		"RANGELOAD_LOAD_TABLE":                 "orders",
		"RANGELOAD_LOAD_COLUMNS":               "id:INTEGER, amount:NUMERIC",
		"RANGELOAD_RANGE_FAMILY":               "OrdersImport",
		"RANGELOAD_RANGE_START":                "2015-01-02",
		"RANGELOAD_SOURCE_QUERY":               "SELECT id, amount FROM staging WHERE day = :date",
		"RANGELOAD_SOURCE_NULL_VALUES":         "NULL,NA",
		"RANGELOAD_BACKFILL_CONCURRENCY":       "3",
		"RANGELOAD_BACKFILL_RETRY_MAX_RETRIES": "5",
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg := testLoad(t, WithConfigFile(writeConfig(t, "load:\n  table: ignored\n")))

	assert.Equal(t, "json", cfg.Core.LogFormat)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/rangeload/loads.db", cfg.Database.DSN)
	assert.True(t, cfg.Database.FileLock)
	assert.Equal(t, "orders", cfg.Load.Table)
	assert.Equal(t, core.Schema{{Name: "id", Type: "INTEGER"}, {Name: "amount", Type: "NUMERIC"}}, cfg.Load.Columns)
	assert.Equal(t, "OrdersImport", cfg.Range.Family)
	assert.True(t, cfg.Range.Start.Equal(time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "SELECT id, amount FROM staging WHERE day = :date", cfg.Source.Query)
	assert.Equal(t, []string{"NULL", "NA"}, cfg.Source.NullValues)
	assert.Equal(t, 3, cfg.Backfill.Concurrency)
	assert.Equal(t, 5, cfg.Backfill.Retry.MaxRetries)
	require.NoError(t, cfg.ValidateLoad())
	require.NoError(t, cfg.ValidateRange())
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RANGELOAD_METRICS_ADDR=127.0.0.1:9999\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("RANGELOAD_METRICS_ADDR") })

	cfg := testLoad(t, WithConfigFile(writeConfig(t, "# empty")), WithEnvFiles(envFile))
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Addr)

	err := testLoadWithError(t, WithConfigFile(writeConfig(t, "# empty")), WithEnvFiles(filepath.Join(t.TempDir(), "missing.env")))
	require.Error(t, err)
}

func TestLoad_Warnings(t *testing.T) {
	cfg := testLoad(t, WithConfigFile(writeConfig(t, `
database:
  driver: sqlite
  dsn: ":memory:"
  statementTimeout: soon
load:
  bulkCopy: true
`)))
	assert.Zero(t, cfg.Database.StatementTimeout)
	assert.Len(t, cfg.Warnings, 2)
	assert.Contains(t, cfg.Warnings[0], "database.statementTimeout")
	assert.Contains(t, cfg.Warnings[1], "bulkCopy")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"InvalidYAML", "database: [", "failed to read config"},
		{"InvalidLogFormat", "logFormat: xml", "invalid log format"},
		{"InvalidTZ", "tz: Mars/Olympus", "failed to load timezone"},
		{"InvalidGranularity", "range:\n  granularity: weekly", "range.granularity"},
		{"InvalidStart", "range:\n  start: yesterday", "range.start"},
		{"StopBeforeStart", "range:\n  start: \"2015-01-05\"\n  stop: \"2015-01-02\"", "range.stop must be after"},
		{"InvalidDelimiter", "source:\n  delimiter: ';;'", "single character"},
		{"PathAndQuery", "source:\n  path: a.csv\n  query: SELECT 1", "mutually exclusive"},
		{"InvalidColumns", "load:\n  columns:\n    - name: id", "load.columns"},
		{"InvalidFamily", "range:\n  family: \"bad name\"", "range.family"},
		{"OTelWithoutEndpoint", "otel:\n  enabled: true", "otel.endpoint"},
		{"NegativeConcurrency", "backfill:\n  concurrency: -1", "backfill.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testLoadWithError(t, WithConfigFile(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseColumns(t *testing.T) {
	cols, err := ParseColumns("id:INTEGER, name : TEXT,,")
	require.NoError(t, err)
	assert.Equal(t, []ColumnDef{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}}, cols)

	_, err = ParseColumns("id")
	require.Error(t, err)
	_, err = ParseColumns("id:")
	require.Error(t, err)
}

func TestParseTime(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		value string
		want  time.Time
	}{
		{"", time.Time{}},
		{"2015-01-02", time.Date(2015, 1, 2, 0, 0, 0, 0, tokyo)},
		{"2015-01-02T15", time.Date(2015, 1, 2, 15, 0, 0, 0, tokyo)},
		{"2015-01-02T15:30", time.Date(2015, 1, 2, 15, 30, 0, 0, tokyo)},
		{"2015-01-02 15:30:10", time.Date(2015, 1, 2, 15, 30, 10, 0, tokyo)},
		{"2015-01-02T00:00:00Z", time.Date(2015, 1, 2, 9, 0, 0, 0, tokyo)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.value, tokyo)
		require.NoError(t, err, tt.value)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.value, got)
	}

	_, err = ParseTime("02/01/2015", tokyo)
	require.Error(t, err)
}
