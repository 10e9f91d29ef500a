// Package loader runs one parameterized bulk load into a relational table
// and records its completion marker in the same transaction.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/database"
	"github.com/dagu-org/rangeload/internal/marker"
	"github.com/dagu-org/rangeload/internal/source"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrAlreadyRunning is returned by Run while another Run of the same
	// task value is in progress.
	ErrAlreadyRunning = errors.New("task is already running")
	// ErrAlreadyDone is returned by Run after the task has completed.
	ErrAlreadyDone = errors.New("task has already completed")
)

var tracer = otel.Tracer("github.com/dagu-org/rangeload/internal/loader")

// Result summarizes one Run.
type Result struct {
	Identity   core.TaskIdentity
	RowsLoaded int64
	Batches    int
	// Duplicate is set when another writer recorded the marker first. No
	// rows of this run were kept.
	Duplicate  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Observer is notified when a run finishes.
type Observer interface {
	ObserveLoad(family, table string, result *Result, err error)
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithClock sets the time source for result timestamps and markers.
func WithClock(now func() time.Time) TaskOption {
	return func(t *Task) {
		t.now = now
	}
}

// WithObserver registers an observer for finished runs.
func WithObserver(o Observer) TaskOption {
	return func(t *Task) {
		t.observer = o
	}
}

// Task loads the rows of one instance into the target table.
type Task struct {
	session   *database.Session
	markers   *marker.Store
	instance  core.Instance
	source    source.RowSource
	opts      Options
	populator MetadataColumnPopulator
	// schema is the base schema plus metadata columns when enabled.
	schema   core.Schema
	now      func() time.Time
	observer Observer

	mu     sync.Mutex
	status core.TaskStatus
}

// NewTask validates opts and returns a pending task for inst.
func NewTask(session *database.Session, inst core.Instance, src source.RowSource, opts Options, taskOpts ...TaskOption) (*Task, error) {
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: row source is required", core.ErrInvalidConfig)
	}

	t := &Task{
		session:   session,
		markers:   marker.New(session, marker.WithTableName(opts.MarkerTable)),
		instance:  inst,
		source:    src,
		opts:      opts,
		populator: noopPopulator{},
		schema:    opts.Columns,
		now:       time.Now,
	}
	if opts.EnableMetadataColumns {
		t.populator = opts.Populator
		if t.populator == nil {
			t.populator = StandardMetadata{}
		}
		t.schema = opts.Columns.With(t.populator.Columns()...)
		if err := t.schema.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
		}
	}
	for _, opt := range taskOpts {
		opt(t)
	}
	return t, nil
}

// Identity returns the identity of the task's instance.
func (t *Task) Identity() core.TaskIdentity {
	return t.instance.Identity
}

// Instance returns the instance the task loads.
func (t *Task) Instance() core.Instance {
	return t.instance
}

// Schema returns the effective column list written to the target table.
func (t *Task) Schema() core.Schema {
	return t.schema
}

// Status returns the current lifecycle status.
func (t *Task) Status() core.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsComplete reports whether the marker for this task exists.
func (t *Task) IsComplete(ctx context.Context) (bool, error) {
	presence, err := t.markers.Exists(ctx, t.instance.Identity, t.opts.Table)
	if err != nil {
		return false, err
	}
	return presence.Exists(), nil
}

func (t *Task) start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.status == core.TaskRunning:
		return ErrAlreadyRunning
	case !t.status.CanStart():
		return ErrAlreadyDone
	}
	t.status = core.TaskRunning
	return nil
}

func (t *Task) finish(status core.TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
}

// Run writes all rows of the instance and its marker in one transaction.
// On any failure before commit nothing is kept. When another writer has
// already recorded the marker the run is rolled back and reported as a
// duplicate without error.
func (t *Task) Run(ctx context.Context) (*Result, error) {
	if err := t.start(); err != nil {
		return nil, err
	}

	loadID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "loader.Run", trace.WithAttributes(
		attribute.String("rangeload.family", t.instance.Family),
		attribute.String("rangeload.identity", t.instance.Identity.String()),
		attribute.String("rangeload.table", t.opts.Table),
		attribute.String("rangeload.load_id", loadID),
	))
	defer span.End()

	ctx = logger.WithValues(ctx,
		tag.Identity(t.instance.Identity.String()),
		tag.Table(t.opts.Table),
		tag.LoadID(loadID),
	)

	result := &Result{Identity: t.instance.Identity, StartedAt: t.now()}
	err := t.load(ctx, loadID, result)
	result.FinishedAt = t.now()

	switch {
	case err == nil:
		t.finish(core.TaskDone)
		logger.Info(ctx, "Load committed", tag.Rows(result.RowsLoaded), tag.Count(result.Batches), tag.Duration(result.Duration()))
	case core.IsConflict(err):
		t.finish(core.TaskDone)
		result.Duplicate = true
		result.RowsLoaded = 0
		logger.Info(ctx, "Marker already recorded by another writer; load rolled back", tag.Error(err))
		err = nil
	default:
		t.finish(core.TaskFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error(ctx, "Load failed; transaction rolled back", tag.Error(err))
	}

	span.SetAttributes(
		attribute.Int64("rangeload.rows", result.RowsLoaded),
		attribute.Bool("rangeload.duplicate", result.Duplicate),
	)
	if t.observer != nil {
		t.observer.ObserveLoad(t.instance.Family, t.opts.Table, result, err)
	}
	return result, err
}

func (t *Task) load(ctx context.Context, loadID string, result *Result) error {
	if err := t.markers.Bootstrap(ctx); err != nil {
		return err
	}
	tx, err := t.session.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	q := tx.Tx()

	if err := t.markers.EnsureTable(ctx, q); err != nil {
		return err
	}
	presence, err := t.markers.ExistsWith(ctx, q, t.instance.Identity, t.opts.Table)
	if err != nil {
		return err
	}
	if presence.Exists() {
		return fmt.Errorf("%w: %s", core.ErrConflict, t.instance.Identity)
	}

	if err := t.prepareTable(ctx, q); err != nil {
		return err
	}
	if err := t.deleteExisting(ctx, q); err != nil {
		return err
	}

	reader, err := t.source.Open(ctx, t.instance)
	if err != nil {
		return wrapSource(err)
	}
	defer func() { _ = reader.Close() }()

	if err := t.copyRows(ctx, tx, reader, loadID, result); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.markers.Record(ctx, q, t.instance.Identity, t.opts.Table, t.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return t.session.Classify(err)
	}
	return nil
}

// prepareTable creates the target table, or checks an existing one and
// adds missing metadata columns.
func (t *Task) prepareTable(ctx context.Context, q database.QueryExecutor) error {
	d := t.session.Driver()
	existing, err := d.TableColumns(ctx, q, t.opts.Table)
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", t.opts.Table, t.classify(err))
	}

	if len(existing) == 0 {
		if _, err := q.ExecContext(ctx, d.BuildCreateTableQuery(t.opts.Table, t.schema, nil)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.opts.Table, t.classify(err))
		}
		logger.Info(ctx, "Created target table", tag.Count(len(t.schema)))
		return nil
	}

	if missing := t.missingColumns(t.opts.Columns, existing); len(missing) > 0 {
		return fmt.Errorf("%w: table %s lacks columns %v", core.ErrSchema, t.opts.Table, missing.Names())
	}
	if !t.opts.EnableMetadataColumns {
		return nil
	}
	for _, col := range t.missingColumns(t.populator.Columns(), existing) {
		if _, err := q.ExecContext(ctx, d.BuildAddColumnQuery(t.opts.Table, col)); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", col.Name, t.opts.Table, t.classify(err))
		}
		logger.Info(ctx, "Added metadata column", tag.Column(col.Name))
	}
	return nil
}

func (t *Task) missingColumns(want core.Schema, existing []string) core.Schema {
	if t.session.Driver().CaseSensitiveIdentifiers() {
		return want.MissingExact(existing)
	}
	return want.Missing(existing)
}

func (t *Task) deleteExisting(ctx context.Context, q database.QueryExecutor) error {
	if t.opts.ReplaceColumn == "" {
		return nil
	}
	d := t.session.Driver()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.QuoteIdentifier(t.opts.Table), d.QuoteIdentifier(t.opts.ReplaceColumn), d.Placeholder(1))
	res, err := q.ExecContext(ctx, query, t.instance.Value)
	if err != nil {
		return fmt.Errorf("failed to delete existing rows: %w", t.classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logger.Info(ctx, "Deleted rows of a previous load", tag.Rows(n), tag.Column(t.opts.ReplaceColumn))
	}
	return nil
}

// chunkSize clamps the configured chunk size to the driver's bind limit.
func (t *Task) chunkSize() int {
	size := t.opts.ChunkSize
	if limit := t.session.Driver().MaxBindParams() / len(t.schema); limit < size {
		size = limit
	}
	return max(size, 1)
}

func (t *Task) copyRows(ctx context.Context, tx *database.Transaction, reader source.RowReader, loadID string, result *Result) error {
	size := t.chunkSize()
	width := len(t.opts.Columns)
	batch := &Batch{Instance: t.instance, LoadID: loadID}

	flush := func() error {
		if len(batch.Rows) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		batch.Seq++
		if t.opts.EnableMetadataColumns {
			if err := t.populator.Populate(ctx, batch); err != nil {
				return fmt.Errorf("failed to populate metadata columns: %w", err)
			}
		}
		for i, row := range batch.Rows {
			if len(row) != len(t.schema) {
				return fmt.Errorf("%w: batch %d row %d has %d values after metadata population, expected %d",
					core.ErrInvalidConfig, batch.Seq, i+1, len(row), len(t.schema))
			}
		}
		n, err := t.write(ctx, tx, batch.Rows)
		if err != nil {
			return err
		}
		result.RowsLoaded += n
		result.Batches++
		logger.Debug(ctx, "Batch written", tag.Batch(batch.Seq), tag.Rows(n))
		batch.Rows = batch.Rows[:0]
		return nil
	}

	for {
		row, err := reader.ReadRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return wrapSource(err)
		}
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d values, expected %d", core.ErrSource, result.RowsLoaded+int64(len(batch.Rows))+1, len(row), width)
		}
		// Copy so metadata values never alias the source's backing array.
		values := make([]any, width, len(t.schema))
		copy(values, row)
		batch.Rows = append(batch.Rows, values)

		if len(batch.Rows) >= size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (t *Task) write(ctx context.Context, tx *database.Transaction, rows [][]any) (int64, error) {
	d := t.session.Driver()
	names := t.schema.Names()

	if copier, ok := d.(database.BulkCopier); ok && t.opts.BulkCopy {
		n, err := copier.CopyRows(ctx, tx.Conn(), t.opts.Table, names, rows)
		if err != nil {
			return 0, t.classify(err)
		}
		return n, nil
	}

	query := d.BuildInsertQuery(t.opts.Table, names, len(rows))
	if _, err := tx.Tx().ExecContext(ctx, query, database.FlattenRows(rows)...); err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", t.classify(err))
	}
	return int64(len(rows)), nil
}

// classify maps errors of statements on the target table. A unique
// violation there comes from the table's own keys, not from the marker, so
// it is never reported as core.ErrConflict.
func (t *Task) classify(err error) error {
	if t.session.Driver().IsUniqueViolation(err) {
		return err
	}
	return t.session.Classify(err)
}

func wrapSource(err error) error {
	if errors.Is(err, core.ErrSource) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrSource, err)
}
