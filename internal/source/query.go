package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
)

// QuerySource reads an instance's rows from a query against a source
// database. The query may reference :date, :start and :end, plus any
// family parameter by name.
type QuerySource struct {
	session *database.Session
	query   string
}

// NewQuerySource returns a QuerySource for query on session.
func NewQuerySource(session *database.Session, query string) (*QuerySource, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: source query is required", core.ErrInvalidConfig)
	}
	return &QuerySource{session: session, query: query}, nil
}

// Open runs the query for inst and streams its result set.
func (s *QuerySource) Open(ctx context.Context, inst core.Instance) (RowReader, error) {
	params := map[string]any{
		"date":  inst.Value,
		"start": inst.Time,
		"end":   inst.End(),
	}
	for k, v := range inst.Params {
		params[k] = v
	}

	query, args, err := ConvertNamedToPositional(s.query, params, s.session.Driver().Placeholder)
	if err != nil {
		return nil, wrap(err)
	}
	rows, err := s.session.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(s.session.Classify(err))
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, wrap(err)
	}
	return WithSourceErrors(&sqlRowReader{rows: rows, width: len(cols)}), nil
}

// sqlRowReader adapts *sql.Rows to RowReader.
type sqlRowReader struct {
	rows  *sql.Rows
	width int
}

func (r *sqlRowReader) ReadRow() ([]any, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	values := make([]any, r.width)
	ptrs := make([]any, r.width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		// Drivers may reuse byte buffers between rows.
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

func (r *sqlRowReader) Close() error {
	err := r.rows.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
