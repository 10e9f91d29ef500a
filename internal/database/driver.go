package database

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dagu-org/rangeload/internal/core"
)

// Driver defines the dialect and connection behavior of one relational
// backend. Each database (PostgreSQL, SQLite) implements this interface.
type Driver interface {
	// Name returns the driver identifier (e.g., "postgres", "sqlite").
	Name() string

	// Connect opens a *sql.DB for cfg. The optional cleanup function is
	// called after the DB is closed.
	Connect(ctx context.Context, cfg *Config) (*sql.DB, func() error, error)

	// QuoteIdentifier quotes a possibly schema-qualified identifier.
	QuoteIdentifier(name string) string

	// Placeholder returns the n-th (1-based) bind placeholder.
	Placeholder(n int) string

	// MaxBindParams is the largest number of bind parameters accepted by a
	// single statement.
	MaxBindParams() int

	// CaseSensitiveIdentifiers reports whether quoted identifiers that differ
	// only in case name different columns.
	CaseSensitiveIdentifiers() bool

	// BuildInsertQuery returns a multi-row INSERT for rowCount rows.
	BuildInsertQuery(table string, columns []string, rowCount int) string

	// BuildCreateTableQuery returns an idempotent CREATE TABLE statement.
	BuildCreateTableQuery(table string, columns core.Schema, primaryKey []string) string

	// BuildAddColumnQuery returns an ALTER TABLE statement adding one column.
	BuildAddColumnQuery(table string, column core.Column) string

	// TableColumns lists the columns of table in ordinal order. It returns
	// nil and no error when the table does not exist.
	TableColumns(ctx context.Context, q QueryExecutor, table string) ([]string, error)

	// MemberOf returns a predicate testing column against every value in
	// values with a single bind parameter at position n, and that parameter.
	MemberOf(column string, n int, values []string) (string, any, error)

	// IsUniqueViolation reports whether err is a unique or primary key
	// constraint failure.
	IsUniqueViolation(err error) bool

	// IsTransient reports whether err is a connectivity, authentication or
	// lock contention failure that may succeed when retried.
	IsTransient(err error) bool
}

// BulkCopier is implemented by drivers with a native bulk load path
// (PostgreSQL COPY). The copy runs on the transaction's connection.
type BulkCopier interface {
	CopyRows(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error)
}

// DriverRegistry holds registered database drivers.
type DriverRegistry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewDriverRegistry creates a new driver registry.
func NewDriverRegistry() *DriverRegistry {
	return &DriverRegistry{
		drivers: make(map[string]Driver),
	}
}

// Register adds a driver to the registry.
func (r *DriverRegistry) Register(driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver.Name()] = driver
}

// Get retrieves a driver by name.
func (r *DriverRegistry) Get(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	driver, ok := r.drivers[name]
	return driver, ok
}

// globalRegistry is the default driver registry.
var globalRegistry = NewDriverRegistry()

// RegisterDriver registers a driver in the global registry.
func RegisterDriver(driver Driver) {
	globalRegistry.Register(driver)
}

// GetDriver retrieves a driver from the global registry.
func GetDriver(name string) (Driver, bool) {
	return globalRegistry.Get(name)
}
