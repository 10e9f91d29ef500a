// Package sqlite provides the SQLite driver backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
	"github.com/gofrs/flock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// maxBindParams is SQLITE_MAX_VARIABLE_NUMBER of the bundled library.
const maxBindParams = 32766

// defaultBusyTimeoutMs lets a writer wait for a competing transaction
// instead of failing with SQLITE_BUSY.
const defaultBusyTimeoutMs = 10000

// SQLiteDriver implements the Driver interface for SQLite.
type SQLiteDriver struct {
	mu    sync.Mutex
	locks map[string]*flock.Flock
}

var _ database.Driver = (*SQLiteDriver)(nil)

// Name returns the driver name.
func (d *SQLiteDriver) Name() string {
	return "sqlite"
}

// Connect opens the database. File databases get a busy timeout, WAL
// journaling and BEGIN IMMEDIATE transactions so concurrent writers
// serialize. In-memory databases are pinned to one connection because each
// connection would otherwise see its own empty database.
func (d *SQLiteDriver) Connect(_ context.Context, cfg *database.Config) (*sql.DB, func() error, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Database
	}

	if isMemoryDB(dsn) {
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		return db, nil, nil
	}

	var cleanup func() error
	if cfg.FileLock {
		release, err := d.lockFile(extractDBPath(dsn))
		if err != nil {
			return nil, nil, err
		}
		cleanup = release
	}

	db, err := sql.Open("sqlite", withDefaults(dsn))
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return db, cleanup, nil
}

func (d *SQLiteDriver) lockFile(path string) (func() error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks == nil {
		d.locks = make(map[string]*flock.Flock)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock sqlite database %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("sqlite database %s is locked by another process", path)
	}
	d.locks[path] = lock

	return func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.locks, path)
		return lock.Unlock()
	}, nil
}

// QuoteIdentifier quotes a possibly schema-qualified identifier.
func (d *SQLiteDriver) QuoteIdentifier(name string) string {
	return database.QuoteIdentifier(name)
}

// Placeholder returns "?".
func (d *SQLiteDriver) Placeholder(int) string {
	return "?"
}

// MaxBindParams returns the SQLite bind parameter limit.
func (d *SQLiteDriver) MaxBindParams() int {
	return maxBindParams
}

// CaseSensitiveIdentifiers returns false; SQLite folds identifier case.
func (d *SQLiteDriver) CaseSensitiveIdentifiers() bool {
	return false
}

// BuildInsertQuery builds a multi-row INSERT with ? placeholders.
func (d *SQLiteDriver) BuildInsertQuery(table string, columns []string, rowCount int) string {
	return database.BuildInsertQuery(d.QuoteIdentifier, d.Placeholder, table, columns, rowCount)
}

// BuildCreateTableQuery builds CREATE TABLE IF NOT EXISTS.
func (d *SQLiteDriver) BuildCreateTableQuery(table string, columns core.Schema, primaryKey []string) string {
	return database.BuildCreateTableQuery(d.QuoteIdentifier, table, columns, primaryKey)
}

// BuildAddColumnQuery builds ALTER TABLE ... ADD COLUMN. SQLite has no
// IF NOT EXISTS form, so callers add only missing columns.
func (d *SQLiteDriver) BuildAddColumnQuery(table string, column core.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		d.QuoteIdentifier(table), d.QuoteIdentifier(column.Name), column.Type)
}

// TableColumns lists the columns of table using pragma_table_info.
func (d *SQLiteDriver) TableColumns(ctx context.Context, q database.QueryExecutor, table string) ([]string, error) {
	schema, name := database.SplitQualified(table)
	query := "SELECT name FROM pragma_table_info(?) ORDER BY cid"
	args := []any{name}
	if schema != "" {
		query = "SELECT name FROM pragma_table_info(?, ?) ORDER BY cid"
		args = append(args, schema)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// MemberOf returns a json_each subquery bound to a JSON array of values.
func (d *SQLiteDriver) MemberOf(column string, _ int, values []string) (string, any, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s IN (SELECT value FROM json_each(?))", d.QuoteIdentifier(column)), string(data), nil
}

// IsUniqueViolation reports UNIQUE and PRIMARY KEY constraint failures.
func (d *SQLiteDriver) IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// IsTransient reports lock contention and open failures.
func (d *SQLiteDriver) IsTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN:
		return true
	}
	return false
}

// isMemoryDB checks if the DSN refers to an in-memory database.
func isMemoryDB(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// extractDBPath extracts the file path from a DSN.
func extractDBPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return path
}

// withDefaults appends the connection parameters the loader relies on
// unless the DSN already sets them.
func withDefaults(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", defaultBusyTimeoutMs))
	}
	if !strings.Contains(dsn, "journal_mode") {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	if !strings.Contains(dsn, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func init() {
	database.RegisterDriver(&SQLiteDriver{
		locks: make(map[string]*flock.Flock),
	})
}
