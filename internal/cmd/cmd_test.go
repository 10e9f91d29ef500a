package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/backoff"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	dir        string
	configFile string
}

func setupEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))

	content := fmt.Sprintf(`
database:
  driver: sqlite
  dsn: %q
load:
  table: orders
  columns:
    - name: id
      type: INTEGER
    - name: amount
      type: TEXT
range:
  family: OrdersImport
  start: "2015-01-02"
source:
  path: %q
%s`, filepath.Join(dir, "loads.db"), filepath.Join(dir, "data", "{{ .Date }}.csv"), extra)

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o600))
	return &testEnv{dir: dir, configFile: configFile}
}

func (e *testEnv) writeDay(t *testing.T, date string, rows int) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("id,amount\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&buf, "%d,%d.00\n", i, i*10)
	}
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "data", date+".csv"), buf.Bytes(), 0o600))
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--quiet"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	env := setupEnv(t, "")
	env.writeDay(t, "2015-01-02", 3)

	out, err := execute(t, Run(), "--config", env.configFile, "--date", "2015-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "OrdersImport_2015_01_02_")

	out, err = execute(t, Run(), "--config", env.configFile, "--date", "2015-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "duplicate")
}

func TestRunCommand_Errors(t *testing.T) {
	env := setupEnv(t, "")

	_, err := execute(t, Run(), "--config", env.configFile, "--date", "yesterday")
	require.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = execute(t, Run(), "--config", env.configFile, "--date", "2015-01-09")
	require.ErrorIs(t, err, core.ErrSource)

	_, err = execute(t, Run(), "--config", env.configFile)
	require.Error(t, err)
}

func TestMissingAndBackfillCommands(t *testing.T) {
	env := setupEnv(t, "backfill:\n  concurrency: 2\n")
	for _, d := range []string{"2015-01-02", "2015-01-03", "2015-01-04", "2015-01-05", "2015-01-06"} {
		env.writeDay(t, d, 2)
	}

	_, err := execute(t, Run(), "--config", env.configFile, "--date", "2015-01-03")
	require.NoError(t, err)

	out, err := execute(t, Missing(), "--config", env.configFile, "--now", "2015-01-07")
	require.NoError(t, err)
	assert.Contains(t, out, "2015-01-02")
	assert.NotContains(t, out, "2015-01-03")
	assert.Contains(t, out, "2015-01-04")
	assert.Contains(t, out, "2015-01-06")
	assert.NotContains(t, out, "2015-01-07")

	out, err = execute(t, Backfill(), "--config", env.configFile, "--now", "2015-01-07", "--task-limit", "2")
	require.NoError(t, err)
	// Footers are rendered upper case.
	assert.Contains(t, strings.ToLower(out), "4 missing")
	assert.Contains(t, strings.ToLower(out), "2 deferred")
	assert.Contains(t, strings.ToLower(out), "2 loaded")
	assert.Contains(t, strings.ToLower(out), "0 failed")
	// Output captured by a buffer is never colored.
	assert.NotContains(t, out, "\x1b[")

	_, err = execute(t, Backfill(), "--config", env.configFile, "--now", "2015-01-07")
	require.NoError(t, err)

	out, err = execute(t, Missing(), "--config", env.configFile, "--now", "2015-01-07")
	require.NoError(t, err)
	assert.Contains(t, out, "complete")
}

func TestBackfillCommand_ReportsFailures(t *testing.T) {
	env := setupEnv(t, "")
	env.writeDay(t, "2015-01-02", 1)

	out, err := execute(t, Backfill(), "--config", env.configFile, "--now", "2015-01-04")
	require.ErrorIs(t, err, core.ErrSource)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "OrdersImport_2015_01_03_")
}

func TestMissingCommand_StartOverride(t *testing.T) {
	env := setupEnv(t, "")

	out, err := execute(t, Missing(), "--config", env.configFile, "--start", "2015-01-05", "--now", "2015-01-07")
	require.NoError(t, err)
	assert.NotContains(t, out, "2015-01-04")
	assert.Contains(t, out, "2015-01-05")
	assert.Contains(t, out, "2015-01-06")

	_, err = execute(t, Missing(), "--config", env.configFile, "--start", "soon")
	require.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestSchedulerCommand_RequiresSchedule(t *testing.T) {
	env := setupEnv(t, "")

	_, err := execute(t, Scheduler(), "--config", env.configFile)
	require.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = execute(t, Scheduler(), "--config", env.configFile, "--schedule", "every now and then")
	require.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := Version()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.NotEmpty(t, out.String())
}

func TestContext_RetryPolicy(t *testing.T) {
	env := setupEnv(t, "backfill:\n  retry:\n    initialInterval: 10ms\n    maxRetries: 2\n")
	cmd := NewCommand(&cobra.Command{Use: "probe"}, nil, func(ctx *Context, _ []string) error {
		policy, ok := ctx.RetryPolicy().(*backoff.ExponentialBackoffPolicy)
		require.True(t, ok)
		assert.Equal(t, 10*time.Millisecond, policy.InitialInterval)
		assert.Equal(t, 2, policy.MaxRetries)
		return nil
	})
	_, err := execute(t, cmd, "--config", env.configFile)
	require.NoError(t, err)

	env = setupEnv(t, "")
	cmd = NewCommand(&cobra.Command{Use: "probe"}, nil, func(ctx *Context, _ []string) error {
		assert.Equal(t, backoff.NoRetry, ctx.RetryPolicy())
		return nil
	})
	_, err = execute(t, cmd, "--config", env.configFile)
	require.NoError(t, err)
}
