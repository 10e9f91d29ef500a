// Package rangesched computes which instances of a task family in a
// calendar window still lack a completion marker, and runs them.
package rangesched

import (
	"context"
	"fmt"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/dagu-org/rangeload/internal/rangesched")

// MarkerChecker answers batched marker existence queries. It is
// implemented by *marker.Store.
type MarkerChecker interface {
	ExistsBatch(ctx context.Context, identities []core.TaskIdentity, targetTable string) (map[core.TaskIdentity]struct{}, error)
}

// PassObserver is notified after every existence pass.
type PassObserver interface {
	ObservePass(family, table string, candidates, missing int, elapsed time.Duration, err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPassObserver registers an observer for existence passes.
func WithPassObserver(o PassObserver) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// Scheduler finds the gaps of a range. It keeps no state between calls;
// the marker table is the only source of truth.
type Scheduler struct {
	markers  MarkerChecker
	observer PassObserver
}

// New returns a Scheduler backed by markers.
func New(markers MarkerChecker, opts ...Option) *Scheduler {
	s := &Scheduler{markers: markers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MissingInstances returns the instances of family in [start, now) that
// have no marker for targetTable, ascending by time.
func (s *Scheduler) MissingInstances(ctx context.Context, family core.Family, targetTable string, start, now time.Time) ([]core.Instance, error) {
	return s.Missing(ctx, Range{Family: family, Table: targetTable, Start: start}, now)
}

// Complete reports whether every instance of family in [start, now) has a
// marker for targetTable. An empty window is complete.
func (s *Scheduler) Complete(ctx context.Context, family core.Family, targetTable string, start, now time.Time) (bool, error) {
	missing, err := s.MissingInstances(ctx, family, targetTable, start, now)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// Missing returns the instances of r at now that have no marker. The
// markers of all candidates are checked with a single query; an empty
// window issues none.
func (s *Scheduler) Missing(ctx context.Context, r Range, now time.Time) ([]core.Instance, error) {
	if err := r.Family.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}

	begin := time.Now()
	candidates := r.Candidates(now)

	ctx, span := tracer.Start(ctx, "rangesched.Missing", trace.WithAttributes(
		attribute.String("rangeload.family", r.Family.Name),
		attribute.String("rangeload.table", r.Table),
		attribute.Int("rangeload.candidates", len(candidates)),
	))
	defer span.End()

	missing, err := s.missing(ctx, r, candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("rangeload.missing", len(missing)))
		logger.Debug(ctx, "Computed missing instances",
			tag.Family(r.Family.Name),
			tag.Table(r.Table),
			tag.Candidates(len(candidates)),
			tag.Missing(len(missing)),
		)
	}
	if s.observer != nil {
		s.observer.ObservePass(r.Family.Name, r.Table, len(candidates), len(missing), time.Since(begin), err)
	}
	return missing, err
}

func (s *Scheduler) missing(ctx context.Context, r Range, candidates []core.Instance) ([]core.Instance, error) {
	if len(candidates) == 0 {
		return []core.Instance{}, nil
	}

	ids := lo.Map(candidates, func(inst core.Instance, _ int) core.TaskIdentity { return inst.Identity })
	done, err := s.markers.ExistsBatch(ctx, ids, r.Table)
	if err != nil {
		return nil, err
	}

	return lo.Filter(candidates, func(inst core.Instance, _ int) bool {
		_, ok := done[inst.Identity]
		return !ok
	}), nil
}
