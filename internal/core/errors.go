package core

import (
	"errors"
	"strings"
)

// Error classes shared by the marker store, the load task and the range
// scheduler. Callers match them with errors.Is; the driver cause stays
// reachable through the wrap chain.
var (
	// ErrConnection marks connectivity, authentication and lock-timeout
	// failures. They are transient: the caller may retry, and the result
	// must never be read as "complete" or "incomplete".
	ErrConnection = errors.New("database connection error")
	// ErrConflict is returned when a marker for the identity already exists.
	// Another writer finished the same unit of work first.
	ErrConflict = errors.New("marker already recorded")
	// ErrSource is returned when the row source fails to produce rows.
	ErrSource = errors.New("row source error")
	// ErrSchema is returned when the target table exists with a shape that
	// does not contain the configured columns.
	ErrSchema = errors.New("incompatible target table schema")
	// ErrInvalidConfig is returned when a configuration struct fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

var (
	ErrFamilyNameRequired     = errors.New("family name is required")
	ErrFamilyNameInvalidChars = errors.New("family name must only contain alphanumeric characters, dashes, dots, and underscores")
	ErrColumnsRequired        = errors.New("at least one column is required")
	ErrColumnNameRequired     = errors.New("column name is required")
	ErrColumnTypeRequired     = errors.New("column type is required")
	ErrColumnDuplicate        = errors.New("column name must be unique")
)

// IsTransient reports whether err is worth retrying unchanged.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsConflict reports whether err is a duplicate marker write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ErrorList collects several validation errors.
type ErrorList []error

// Error implements the error interface.
// It returns a string with all the errors separated by a semicolon.
func (e ErrorList) Error() string {
	errStrings := make([]string, len(e))
	for i, err := range e {
		errStrings[i] = err.Error()
	}
	return strings.Join(errStrings, "; ")
}

// Unwrap lets errors.Is match any error in the list.
func (e ErrorList) Unwrap() []error {
	if len(e) == 0 {
		return nil
	}
	errs := make([]error, len(e))
	copy(errs, e)
	return errs
}
