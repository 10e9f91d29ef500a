package config

import (
	"testing"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Core:     Core{LogFormat: "text", Location: time.UTC},
		Database: Database{Driver: "sqlite", DSN: ":memory:"},
		Load: Load{
			Table:   "orders",
			Columns: core.Schema{{Name: "id", Type: "INTEGER"}},
		},
		Range: Range{
			Family: "OrdersImport",
			Start:  time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		Source:   Source{Path: "orders.csv"},
		Backfill: Backfill{Concurrency: 1},
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Database.Port = 70000
	cfg.Backfill.TaskLimit = -1
	err := cfg.Validate()
	require.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "invalid database port")
	assert.Contains(t, err.Error(), "backfill.taskLimit")
}

func TestConfig_ValidateLoad(t *testing.T) {
	t.Parallel()
	require.NoError(t, validConfig().ValidateLoad())

	err := (&Config{}).ValidateLoad()
	require.ErrorIs(t, err, core.ErrInvalidConfig)
	for _, want := range []string{"database.driver", "load.table", "load.columns", "range.family", "source.path"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfig_ValidateRange(t *testing.T) {
	t.Parallel()
	require.NoError(t, validConfig().ValidateRange())

	cfg := validConfig()
	cfg.Range.Start = time.Time{}
	err := cfg.ValidateRange()
	require.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "range.start is required")
}
