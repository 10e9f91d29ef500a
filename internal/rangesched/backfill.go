package rangesched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/backoff"
	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/loader"
	"golang.org/x/sync/errgroup"
)

// Runner runs one instance. *loader.Task implements it.
type Runner interface {
	Run(ctx context.Context) (*loader.Result, error)
}

// TaskFactory builds the runner for an instance.
type TaskFactory func(inst core.Instance) (Runner, error)

// BackfillOptions tune a backfill.
type BackfillOptions struct {
	// Concurrency is the number of instances loaded at once. Zero means 1.
	Concurrency int
	// TaskLimit caps the instances started per pass, oldest first. Zero
	// means no limit.
	TaskLimit int
	// RetryPolicy is applied to transient failures only. Nil disables
	// retries.
	RetryPolicy backoff.RetryPolicy
}

// InstanceError is the failure of one instance.
type InstanceError struct {
	Instance core.Instance
	Err      error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Instance.Identity, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// BackfillReport summarizes one backfill pass.
type BackfillReport struct {
	// Missing are the gaps found, before TaskLimit.
	Missing []core.Instance
	// Loaded are the results of committed loads, in instance order.
	Loaded []*loader.Result
	// Duplicates are instances another writer completed first.
	Duplicates []core.TaskIdentity
	// Failed holds one *InstanceError per failed instance.
	Failed []error
	// Deferred counts the gaps left for a later pass by TaskLimit.
	Deferred int
}

// Backfill loads the gaps of a range.
type Backfill struct {
	scheduler *Scheduler
	factory   TaskFactory
	opts      BackfillOptions
}

// NewBackfill returns a Backfill that finds gaps with scheduler and loads
// them with runners from factory.
func NewBackfill(scheduler *Scheduler, factory TaskFactory, opts BackfillOptions) *Backfill {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = backoff.NoRetry
	}
	return &Backfill{scheduler: scheduler, factory: factory, opts: opts}
}

type outcome struct {
	result *loader.Result
	err    error
}

// Run loads every missing instance of r at now. A failing instance does not
// stop the others; the failures are returned joined and listed in the
// report.
func (b *Backfill) Run(ctx context.Context, r Range, now time.Time) (*BackfillReport, error) {
	missing, err := b.scheduler.Missing(ctx, r, now)
	if err != nil {
		return nil, err
	}

	report := &BackfillReport{Missing: missing}
	todo := missing
	if b.opts.TaskLimit > 0 && len(todo) > b.opts.TaskLimit {
		report.Deferred = len(todo) - b.opts.TaskLimit
		todo = todo[:b.opts.TaskLimit]
	}
	if len(todo) == 0 {
		return report, nil
	}

	logger.Info(ctx, "Starting backfill",
		tag.Family(r.Family.Name),
		tag.Table(r.Table),
		tag.Missing(len(missing)),
		tag.Count(len(todo)),
		tag.Concurrency(b.opts.Concurrency),
	)

	outcomes := make([]outcome, len(todo))
	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for i, inst := range todo {
		g.Go(func() error {
			res, err := b.runOne(ctx, inst)
			outcomes[i] = outcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case o.err != nil:
			report.Failed = append(report.Failed, &InstanceError{Instance: todo[i], Err: o.err})
		case o.result.Duplicate:
			report.Duplicates = append(report.Duplicates, o.result.Identity)
		default:
			report.Loaded = append(report.Loaded, o.result)
		}
	}

	logger.Info(ctx, "Backfill finished",
		tag.Family(r.Family.Name),
		tag.String("loaded", fmt.Sprint(len(report.Loaded))),
		tag.String("duplicates", fmt.Sprint(len(report.Duplicates))),
		tag.String("failed", fmt.Sprint(len(report.Failed))),
	)
	return report, errors.Join(report.Failed...)
}

func (b *Backfill) runOne(ctx context.Context, inst core.Instance) (*loader.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runner, err := b.factory(inst)
	if err != nil {
		return nil, err
	}

	var result *loader.Result
	err = backoff.Retry(ctx, func(ctx context.Context) error {
		res, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, b.opts.RetryPolicy, core.IsTransient)
	if err != nil {
		return nil, err
	}
	return result, nil
}
