package rangesched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression or a descriptor such
// as "@hourly" or "@every 15m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schedule %q: %w", core.ErrInvalidConfig, expr, err)
	}
	return sched, nil
}

// Loop runs a backfill of one range every time a cron schedule fires.
// A failing pass is logged and the loop waits for the next tick.
type Loop struct {
	expr     string
	schedule cron.Schedule
	backfill *Backfill
	rng      Range
	now      func() time.Time
	running  atomic.Bool
	passes   atomic.Int64
}

// NewLoop returns a loop for the cron expression expr.
func NewLoop(expr string, backfill *Backfill, r Range) (*Loop, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Loop{
		expr:     expr,
		schedule: sched,
		backfill: backfill,
		rng:      r,
		now:      time.Now,
	}, nil
}

// IsRunning reports whether Start is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Passes returns the number of completed passes.
func (l *Loop) Passes() int64 {
	return l.passes.Load()
}

// Start runs a pass immediately and then on every tick until ctx is done.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler loop is already running")
	}
	defer l.running.Store(false)

	logger.Info(ctx, "Scheduler loop started",
		tag.Schedule(l.expr),
		tag.Family(l.rng.Family.Name),
		tag.Table(l.rng.Table),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Scheduler loop stopped")
			return nil

		case <-timer.C:
			l.RunOnce(ctx)
			next := l.schedule.Next(l.now())
			logger.Debug(ctx, "Next pass scheduled", tag.NextRun(next))
			timer.Reset(time.Until(next))
		}
	}
}

// RunOnce runs one backfill pass evaluated at the current time.
func (l *Loop) RunOnce(ctx context.Context) *BackfillReport {
	defer l.passes.Add(1)

	report, err := l.backfill.Run(ctx, l.rng, l.now())
	if err != nil {
		logger.Error(ctx, "Backfill pass failed", tag.Error(err))
	}
	return report
}
