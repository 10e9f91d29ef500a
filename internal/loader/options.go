package loader

import (
	"fmt"
	"strings"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/marker"
)

// DefaultChunkSize is the number of rows per INSERT statement.
const DefaultChunkSize = 5000

// Options describes the target of a load task.
type Options struct {
	// Table is the target table, optionally schema qualified.
	Table string
	// Columns are the base columns in source row order.
	Columns core.Schema
	// EnableMetadataColumns appends the populator's columns to every row.
	EnableMetadataColumns bool
	// Populator fills metadata columns. Nil selects StandardMetadata.
	Populator MetadataColumnPopulator
	// ChunkSize caps the rows per statement. Zero means DefaultChunkSize.
	ChunkSize int
	// ReplaceColumn, when set, deletes rows whose value in this column
	// equals the instance parameter before inserting.
	ReplaceColumn string
	// MarkerTable overrides the marker table name.
	MarkerTable string
	// BulkCopy uses the driver's native bulk path (PostgreSQL COPY) when
	// available.
	BulkCopy bool
}

func (o *Options) setDefaults() {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MarkerTable == "" {
		o.MarkerTable = marker.DefaultTableName
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	var errs core.ErrorList
	if strings.TrimSpace(o.Table) == "" {
		errs = append(errs, fmt.Errorf("%w: table is required", core.ErrInvalidConfig))
	}
	if err := o.Columns.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err))
	}
	if o.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrInvalidConfig, o.ChunkSize))
	}
	if o.ReplaceColumn != "" && len(o.Columns.Missing([]string{o.ReplaceColumn})) == len(o.Columns) {
		errs = append(errs, fmt.Errorf("%w: replace column %q is not a configured column", core.ErrInvalidConfig, o.ReplaceColumn))
	}
	if strings.EqualFold(o.Table, o.MarkerTable) && o.Table != "" {
		errs = append(errs, fmt.Errorf("%w: target table and marker table must differ", core.ErrInvalidConfig))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
