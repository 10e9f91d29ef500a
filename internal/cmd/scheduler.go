package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/metrics"
	"github.com/dagu-org/rangeload/internal/rangesched"
	"github.com/spf13/cobra"
)

// Scheduler returns the long-running command that backfills on a cron
// schedule.
func Scheduler() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "scheduler [flags]",
			Short: "Backfill the range every time the schedule fires",
			Long: `Run a backfill pass at startup and then on every tick of the cron
schedule until interrupted. Metrics are served on metrics.addr.

Example:
  rangeload scheduler --schedule="*/15 * * * *"
`,
		}, schedulerFlags, runScheduler,
	)
}

var schedulerFlags = []commandLineFlag{startFlag, stopFlag, taskLimitFlag, scheduleFlag}

func runScheduler(ctx *Context, _ []string) error {
	if err := ctx.Config.ValidateLoad(); err != nil {
		return err
	}
	if err := ctx.Config.ValidateRange(); err != nil {
		return err
	}
	schedule := ctx.Config.Scheduler.Schedule
	if v := ctx.flag("schedule"); v != "" {
		schedule = v
	}
	if schedule == "" {
		return fmt.Errorf("%w: scheduler.schedule is required", core.ErrInvalidConfig)
	}
	r, err := ctx.Range()
	if err != nil {
		return err
	}

	session, err := ctx.OpenSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	b, err := ctx.Backfill(session)
	if err != nil {
		return err
	}
	loop, err := rangesched.NewLoop(schedule, b, r)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := metrics.NewServer(ctx.Config.Metrics.Addr, ctx.Registry)
	if err := server.Start(sigCtx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() { _ = server.Stop(context.WithoutCancel(ctx)) }()

	logger.Info(ctx, "Scheduler initialization",
		tag.Schedule(schedule),
		tag.Concurrency(ctx.Config.Backfill.Concurrency),
	)
	return loop.Start(sigCtx)
}
