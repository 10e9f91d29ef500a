package loader

import (
	"context"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
)

// Batch is one chunk of rows about to be written.
type Batch struct {
	Instance core.Instance
	// LoadID identifies the run that produced the batch.
	LoadID string
	// Seq is the 1-based batch number within the run.
	Seq  int
	Rows [][]any
}

// MetadataColumnPopulator appends metadata values to every row of a batch.
type MetadataColumnPopulator interface {
	// Columns returns the metadata columns, appended after the base
	// columns in this order.
	Columns() core.Schema
	// Populate appends one value per metadata column to each row.
	Populate(ctx context.Context, batch *Batch) error
}

type noopPopulator struct{}

func (noopPopulator) Columns() core.Schema { return nil }

func (noopPopulator) Populate(context.Context, *Batch) error { return nil }

// Metadata column names written by StandardMetadata.
const (
	ColumnTaskIdentity = "_task_identity"
	ColumnLoadID       = "_load_id"
	ColumnInsertedAt   = "_inserted_at"
)

// StandardMetadata records which task and run wrote a row, and when.
type StandardMetadata struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

var _ MetadataColumnPopulator = StandardMetadata{}

// Columns implements MetadataColumnPopulator.
func (StandardMetadata) Columns() core.Schema {
	return core.Schema{
		{Name: ColumnTaskIdentity, Type: "TEXT"},
		{Name: ColumnLoadID, Type: "TEXT"},
		{Name: ColumnInsertedAt, Type: "TIMESTAMP"},
	}
}

// Populate implements MetadataColumnPopulator.
func (m StandardMetadata) Populate(_ context.Context, batch *Batch) error {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	insertedAt := now().UTC()
	identity := batch.Instance.Identity.String()
	for i, row := range batch.Rows {
		batch.Rows[i] = append(row, identity, batch.LoadID, insertedAt)
	}
	return nil
}
