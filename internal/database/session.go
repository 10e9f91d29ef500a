package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dagu-org/rangeload/internal/core"
)

// Session owns a connection pool and the driver that speaks its dialect.
// It is safe for concurrent use.
type Session struct {
	db      *sql.DB
	driver  Driver
	cleanup func() error
}

// Open connects to the database described by cfg and verifies the
// connection. Connectivity failures wrap core.ErrConnection.
func Open(ctx context.Context, cfg *Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driver, ok := GetDriver(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("%w: sql driver %q not found", core.ErrInvalidConfig, cfg.Driver)
	}

	db, cleanup, err := driver.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConnection, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Session{db: db, driver: driver, cleanup: cleanup}
	if err := db.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, s.Classify(fmt.Errorf("failed to connect to %s: %w", driver.Name(), err))
	}
	return s, nil
}

// NewSession wraps an already opened pool.
func NewSession(db *sql.DB, driver Driver) *Session {
	return &Session{db: db, driver: driver}
}

// DB returns the underlying pool.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Driver returns the session's dialect.
func (s *Session) Driver() Driver {
	return s.driver
}

// Close closes the pool and releases driver resources such as file locks.
func (s *Session) Close() error {
	err := s.db.Close()
	if s.cleanup != nil {
		err = errors.Join(err, s.cleanup())
	}
	return err
}

// Begin starts a transaction on a dedicated connection.
func (s *Session) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := BeginTransaction(ctx, s.db)
	if err != nil {
		return nil, s.Classify(err)
	}
	return tx, nil
}

// Classify maps a driver error onto the core error classes. Errors that
// match no class are returned unchanged.
func (s *Session) Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrConnection):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case s.driver.IsUniqueViolation(err):
		return fmt.Errorf("%w: %w", core.ErrConflict, err)
	case s.driver.IsTransient(err), isNetworkError(err):
		return fmt.Errorf("%w: %w", core.ErrConnection, err)
	default:
		return err
	}
}
