// Package marker persists completion markers: one row per unit of work
// that has been durably applied to a target table.
package marker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
	"github.com/samber/lo"
)

// DefaultTableName is the marker table used when no name is configured.
const DefaultTableName = "table_updates"

// Column names of the marker table.
const (
	ColumnIdentity  = "task_identity"
	ColumnTable     = "target_table"
	ColumnAppliedAt = "applied_at"
)

// Schema is the marker table layout.
var Schema = core.Schema{
	{Name: ColumnIdentity, Type: "TEXT NOT NULL"},
	{Name: ColumnTable, Type: "TEXT NOT NULL"},
	{Name: ColumnAppliedAt, Type: "TIMESTAMP NOT NULL"},
}

// Store reads and writes markers through a session.
type Store struct {
	session *database.Session
	table   string

	mu    sync.Mutex
	ready bool
}

// Option configures a Store.
type Option func(*Store)

// WithTableName overrides the marker table name.
func WithTableName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.table = name
		}
	}
}

// New creates a Store on session.
func New(session *database.Session, opts ...Option) *Store {
	s := &Store{session: session, table: DefaultTableName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TableName returns the marker table name.
func (s *Store) TableName() string {
	return s.table
}

// EnsureTable creates the marker table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context, q database.QueryExecutor) error {
	d := s.session.Driver()
	query := d.BuildCreateTableQuery(s.table, Schema, []string{ColumnIdentity, ColumnTable})
	if _, err := q.ExecContext(ctx, query); err != nil {
		// PostgreSQL reports a concurrent CREATE TABLE IF NOT EXISTS as a
		// unique violation on its catalog; the table exists either way.
		if d.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to create marker table %s: %w", s.table, s.session.Classify(err))
	}
	return nil
}

// Bootstrap creates the marker table once per Store outside any load
// transaction. A failed attempt is retried by the next call.
func (s *Store) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.EnsureTable(ctx, s.session.DB()); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// Exists reports whether a marker for identity and targetTable is present.
// Errors are never reported as NotFound.
func (s *Store) Exists(ctx context.Context, identity core.TaskIdentity, targetTable string) (core.Presence, error) {
	if err := s.Bootstrap(ctx); err != nil {
		return core.NotFound, err
	}
	return s.ExistsWith(ctx, s.session.DB(), identity, targetTable)
}

// ExistsWith is Exists evaluated through q, typically an open load
// transaction. The marker table must already exist.
func (s *Store) ExistsWith(ctx context.Context, q database.QueryExecutor, identity core.TaskIdentity, targetTable string) (core.Presence, error) {
	d := s.session.Driver()
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s AND %s = %s LIMIT 1",
		d.QuoteIdentifier(s.table),
		d.QuoteIdentifier(ColumnIdentity), d.Placeholder(1),
		d.QuoteIdentifier(ColumnTable), d.Placeholder(2),
	)

	var one int
	err := q.QueryRowContext(ctx, query, identity.String(), targetTable).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.NotFound, nil
	case err != nil:
		return core.NotFound, fmt.Errorf("failed to check marker %s: %w", identity, s.session.Classify(err))
	default:
		return core.Found, nil
	}
}

// ExistsBatch returns the subset of identities that have a marker for
// targetTable. It issues exactly one query for any non-empty input and none
// for an empty one.
func (s *Store) ExistsBatch(ctx context.Context, identities []core.TaskIdentity, targetTable string) (map[core.TaskIdentity]struct{}, error) {
	found := make(map[core.TaskIdentity]struct{})
	if len(identities) == 0 {
		return found, nil
	}
	if err := s.Bootstrap(ctx); err != nil {
		return nil, err
	}

	d := s.session.Driver()
	values := lo.Uniq(lo.Map(identities, func(id core.TaskIdentity, _ int) string { return id.String() }))
	member, arg, err := d.MemberOf(ColumnIdentity, 2, values)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s",
		d.QuoteIdentifier(ColumnIdentity),
		d.QuoteIdentifier(s.table),
		d.QuoteIdentifier(ColumnTable), d.Placeholder(1),
		member,
	)

	rows, err := s.session.DB().QueryContext(ctx, query, targetTable, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to check %d markers: %w", len(values), s.session.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan marker: %w", s.session.Classify(err))
		}
		found[core.TaskIdentity(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read markers: %w", s.session.Classify(err))
	}
	return found, nil
}

// Record writes the marker for identity using q, which must be the load
// transaction so the marker commits or rolls back with the data. A second
// marker for the same identity and table fails with core.ErrConflict.
func (s *Store) Record(ctx context.Context, q database.QueryExecutor, identity core.TaskIdentity, targetTable string, appliedAt time.Time) error {
	d := s.session.Driver()
	query := d.BuildInsertQuery(s.table, []string{ColumnIdentity, ColumnTable, ColumnAppliedAt}, 1)
	if _, err := q.ExecContext(ctx, query, identity.String(), targetTable, appliedAt.UTC()); err != nil {
		return fmt.Errorf("failed to record marker %s: %w", identity, s.session.Classify(err))
	}
	return nil
}
