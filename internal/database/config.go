package database

import (
	"fmt"

	"github.com/dagu-org/rangeload/internal/core"
)

// Config holds the connection settings of a session.
type Config struct {
	// Driver selects a registered driver ("postgres" or "sqlite").
	Driver string
	// DSN is used verbatim when set; otherwise the driver builds one from
	// the discrete fields below.
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	// FileLock takes an exclusive lock on the SQLite file for the lifetime
	// of the session.
	FileLock bool
	// MaxOpenConns caps the pool; zero keeps the database/sql default.
	MaxOpenConns int
}

// Validate checks the settings that every driver needs.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("%w: database driver is required", core.ErrInvalidConfig)
	}
	if c.DSN == "" && c.Database == "" {
		return fmt.Errorf("%w: database dsn or name is required", core.ErrInvalidConfig)
	}
	return nil
}
