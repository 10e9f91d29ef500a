package source_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
	_ "github.com/dagu-org/rangeload/internal/database/drivers/sqlite"
	"github.com/dagu-org/rangeload/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var daily = core.Family{Name: "OrdersImport", Granularity: core.Daily}

func drain(t *testing.T, r source.RowReader) ([][]any, error) {
	t.Helper()
	var rows [][]any
	for {
		row, err := r.ReadRow()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func TestRows(t *testing.T) {
	t.Parallel()
	r, err := source.Rows{{1, "a"}, {2, "b"}}.Open(context.Background(), daily.Instance(time.Now()))
	require.NoError(t, err)
	rows, err := drain(t, r)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{1, "a"}, {2, "b"}}, rows)
	require.NoError(t, r.Close())
}

func TestFileSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2015", "01"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2015", "01", "02.csv"), []byte("id,amount\n1,10\n2,\n"), 0o600))

	src, err := source.NewFileSource(dir+`/{{ .Time.Format "2006/01" }}/{{ .Date | trimPrefix "2015-01-" }}.csv`, "", source.DefaultInputOptions(source.FormatCSV))
	require.NoError(t, err)

	inst := daily.Instance(time.Date(2015, 1, 2, 13, 0, 0, 0, time.UTC))
	path, err := src.Path(inst)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2015", "01", "02.csv"), path)

	r, err := src.Open(context.Background(), inst)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	rows, err := drain(t, r)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"1", "10"}, {"2", nil}}, rows)
}

func TestFileSource_MissingFile(t *testing.T) {
	t.Parallel()
	src, err := source.NewFileSource(t.TempDir()+"/{{ .Date }}.jsonl", "", source.DefaultInputOptions(source.FormatJSONL))
	require.NoError(t, err)

	_, err = src.Open(context.Background(), daily.Instance(time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSource)
}

func TestFileSource_ReadErrorIsSourceError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2015-01-02.jsonl"), []byte("{\"id\": 1}\n{broken\n"), 0o600))

	opts := source.DefaultInputOptions(source.FormatJSONL)
	opts.Columns = []string{"id"}
	src, err := source.NewFileSource(dir+"/{{ .Date }}.jsonl", "", opts)
	require.NoError(t, err)

	r, err := src.Open(context.Background(), daily.Instance(time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	rows, err := drain(t, r)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSource)
	assert.Len(t, rows, 1)
}

func TestNewFileSource_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := source.NewFileSource("{{ .Date", "", source.DefaultInputOptions(source.FormatCSV))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = source.NewFileSource("/data/{{ .Date }}.xml", "xml", source.DefaultInputOptions("xml"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestQuerySource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	session, err := database.Open(ctx, &database.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "source.db"),
	})
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	_, err = session.DB().ExecContext(ctx, `CREATE TABLE raw_orders (id INTEGER, day TEXT, note TEXT)`)
	require.NoError(t, err)
	_, err = session.DB().ExecContext(ctx, `INSERT INTO raw_orders VALUES
		(1, '2015-01-02', 'a'), (2, '2015-01-02', NULL), (3, '2015-01-03', 'c')`)
	require.NoError(t, err)

	src, err := source.NewQuerySource(session, `SELECT id, note FROM raw_orders WHERE day = :date ORDER BY id`)
	require.NoError(t, err)

	r, err := src.Open(ctx, daily.Instance(time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	rows, err := drain(t, r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, [][]any{{int64(1), "a"}, {int64(2), nil}}, rows)

	_, err = source.NewQuerySource(session, "")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	bad, err := source.NewQuerySource(session, `SELECT * FROM missing_table WHERE day = :date`)
	require.NoError(t, err)
	_, err = bad.Open(ctx, daily.Instance(time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, core.ErrSource)
}
