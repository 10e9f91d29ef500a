// Package postgres provides the PostgreSQL driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// maxBindParams is the protocol limit on parameters per statement.
const maxBindParams = 65535

// PostgresDriver implements the Driver interface for PostgreSQL.
type PostgresDriver struct{}

var (
	_ database.Driver     = (*PostgresDriver)(nil)
	_ database.BulkCopier = (*PostgresDriver)(nil)
)

// Name returns the driver name.
func (d *PostgresDriver) Name() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (d *PostgresDriver) Connect(_ context.Context, cfg *database.Config) (*sql.DB, func() error, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = BuildDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return db, nil, nil
}

// QuoteIdentifier quotes a possibly schema-qualified identifier.
func (d *PostgresDriver) QuoteIdentifier(name string) string {
	return database.QuoteIdentifier(name)
}

// Placeholder returns "$n".
func (d *PostgresDriver) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// MaxBindParams returns the PostgreSQL bind parameter limit.
func (d *PostgresDriver) MaxBindParams() int {
	return maxBindParams
}

// CaseSensitiveIdentifiers returns true: tables are created with quoted
// identifiers, so "Amount" and "amount" are different columns.
func (d *PostgresDriver) CaseSensitiveIdentifiers() bool {
	return true
}

// BuildInsertQuery builds a multi-row INSERT with $n placeholders.
func (d *PostgresDriver) BuildInsertQuery(table string, columns []string, rowCount int) string {
	return database.BuildInsertQuery(d.QuoteIdentifier, d.Placeholder, table, columns, rowCount)
}

// BuildCreateTableQuery builds CREATE TABLE IF NOT EXISTS.
func (d *PostgresDriver) BuildCreateTableQuery(table string, columns core.Schema, primaryKey []string) string {
	return database.BuildCreateTableQuery(d.QuoteIdentifier, table, columns, primaryKey)
}

// BuildAddColumnQuery builds ALTER TABLE ... ADD COLUMN IF NOT EXISTS.
func (d *PostgresDriver) BuildAddColumnQuery(table string, column core.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		d.QuoteIdentifier(table), d.QuoteIdentifier(column.Name), column.Type)
}

// TableColumns lists the columns of table from information_schema.
// Unqualified names resolve against current_schema().
func (d *PostgresDriver) TableColumns(ctx context.Context, q database.QueryExecutor, table string) ([]string, error) {
	schema, name := database.SplitQualified(table)
	rows, err := q.QueryContext(ctx, `SELECT column_name FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
ORDER BY ordinal_position`, schema, name)
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

// MemberOf returns "column = ANY($n)" bound to a text array.
func (d *PostgresDriver) MemberOf(column string, n int, values []string) (string, any, error) {
	return fmt.Sprintf("%s = ANY(%s)", d.QuoteIdentifier(column), d.Placeholder(n)), values, nil
}

// IsUniqueViolation reports SQLSTATE 23505.
func (d *PostgresDriver) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsTransient reports connection, authorization, resource, operator
// intervention and transaction rollback errors, plus client-side timeouts.
func (d *PostgresDriver) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "28", "40", "53", "57":
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err)
}

// CopyRows loads rows with the COPY protocol on conn. When conn carries an
// open transaction the copy is part of it.
func (d *PostgresDriver) CopyRows(ctx context.Context, conn *sql.Conn, table string, columns []string, rows [][]any) (int64, error) {
	var copied int64
	err := conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		n, err := c.Conn().CopyFrom(ctx, pgx.Identifier(strings.Split(table, ".")), columns, pgx.CopyFromRows(rows))
		copied = n
		return err
	})
	if err != nil {
		return copied, fmt.Errorf("copy into %s: %w", table, err)
	}
	return copied, nil
}

// BuildDSN constructs a PostgreSQL URL from components, escaping the
// credentials.
func BuildDSN(host string, port int, user, password, database string, sslmode string) string {
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + database}
	if port > 0 {
		u.Host = host + ":" + strconv.Itoa(port)
	}
	if user != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	if sslmode != "" {
		u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	}
	return u.String()
}

func init() {
	database.RegisterDriver(&PostgresDriver{})
}
