package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// QueryExecutor is satisfied by *sql.DB, *sql.Conn and *sql.Tx so helpers
// can run either inside or outside a transaction.
type QueryExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ QueryExecutor = (*sql.DB)(nil)
	_ QueryExecutor = (*sql.Conn)(nil)
	_ QueryExecutor = (*sql.Tx)(nil)
)

// ErrTransactionDone is returned when a finished transaction is committed.
var ErrTransactionDone = errors.New("transaction already finished")

// Transaction is a transaction pinned to one pooled connection. The
// connection is returned to the pool when the transaction finishes, on
// every path.
type Transaction struct {
	conn *sql.Conn
	tx   *sql.Tx
	done bool
}

// BeginTransaction acquires a connection from db and begins a transaction on it.
func BeginTransaction(ctx context.Context, db *sql.DB) (*Transaction, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{conn: conn, tx: tx}, nil
}

// Tx returns the underlying transaction.
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Conn returns the connection the transaction runs on. Statements issued
// on it outside database/sql (e.g. COPY) take part in the transaction.
func (t *Transaction) Conn() *sql.Conn {
	return t.conn
}

// Commit commits the transaction and releases the connection.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrTransactionDone
	}
	t.done = true
	err := t.tx.Commit()
	closeErr := t.conn.Close()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return closeErr
}

// Rollback aborts the transaction and releases the connection. It is a
// no-op after Commit, so it can always be deferred.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	closeErr := t.conn.Close()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return closeErr
}
