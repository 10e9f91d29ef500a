package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Backfill returns the command that loads every gap of the range once.
func Backfill() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "backfill [flags]",
			Short: "Load every missing instance of the range",
			Long: `Find the instances of the configured range that have no completion
marker and load them, up to backfill.concurrency at a time.

Example:
  rangeload backfill --start=2015-01-02 --task-limit=30

Failed instances do not stop the others. The command exits non-zero when
any instance failed.
`,
		}, backfillFlags, runBackfill,
	)
}

var backfillFlags = []commandLineFlag{startFlag, stopFlag, nowFlag, taskLimitFlag}

func runBackfill(ctx *Context, _ []string) error {
	if err := ctx.Config.ValidateLoad(); err != nil {
		return err
	}
	if err := ctx.Config.ValidateRange(); err != nil {
		return err
	}
	r, err := ctx.Range()
	if err != nil {
		return err
	}
	now, err := ctx.Now()
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
	report, err := b.Run(ctx, r, now)
	if report != nil {
		_, _ = fmt.Fprintln(ctx.Command.OutOrStdout(), renderReport(ctx.palette(), report))
	}
	return err
}
