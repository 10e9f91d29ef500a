// Package source provides the row sources a load task reads from.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dagu-org/rangeload/internal/core"
)

// RowSource produces the rows of one task instance.
type RowSource interface {
	// Open returns a reader over the rows for inst. Errors wrap
	// core.ErrSource.
	Open(ctx context.Context, inst core.Instance) (RowReader, error)
}

// RowReader yields rows lazily.
type RowReader interface {
	// ReadRow returns the next row, or io.EOF when no more rows are available.
	ReadRow() ([]any, error)

	// Close releases any resources held by the reader.
	Close() error
}

// RowSourceFunc adapts a function to RowSource.
type RowSourceFunc func(ctx context.Context, inst core.Instance) (RowReader, error)

// Open calls f.
func (f RowSourceFunc) Open(ctx context.Context, inst core.Instance) (RowReader, error) {
	return f(ctx, inst)
}

// Rows is a RowSource that returns the same in-memory rows for every
// instance.
type Rows [][]any

// Open returns a reader over the rows.
func (r Rows) Open(context.Context, core.Instance) (RowReader, error) {
	return NewSliceReader(r), nil
}

// SliceReader reads rows from memory.
type SliceReader struct {
	rows [][]any
	pos  int
}

// NewSliceReader returns a reader over rows.
func NewSliceReader(rows [][]any) *SliceReader {
	return &SliceReader{rows: rows}
}

// ReadRow returns the next row.
func (r *SliceReader) ReadRow() ([]any, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

// Close is a no-op.
func (r *SliceReader) Close() error {
	return nil
}

// wrap marks err as a source error unless it already is one. io.EOF is
// passed through untouched.
func wrap(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, core.ErrSource) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrSource, err)
}

// errorReader wraps every error of an underlying reader with core.ErrSource.
type errorReader struct {
	RowReader
}

// WithSourceErrors returns r with read errors wrapped in core.ErrSource.
func WithSourceErrors(r RowReader) RowReader {
	return errorReader{RowReader: r}
}

func (r errorReader) ReadRow() ([]any, error) {
	row, err := r.RowReader.ReadRow()
	return row, wrap(err)
}
