package cmd

import (
	"fmt"

	"github.com/dagu-org/rangeload/internal/rangesched"
	"github.com/spf13/cobra"
)

// Missing returns the command that lists the gaps of the configured range.
func Missing() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "missing [flags]",
			Short: "List instances of the range that have no completion marker",
			Long: `List the instances of the configured family between range.start and now
that have no marker for the target table, oldest first.

Example:
  rangeload missing --start=2015-01-02 --now=2015-01-07
`,
		}, rangeFlags, runMissing,
	)
}

var rangeFlags = []commandLineFlag{startFlag, stopFlag, nowFlag}

func runMissing(ctx *Context, _ []string) error {
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

	scheduler := rangesched.New(ctx.MarkerStore(session), rangesched.WithPassObserver(ctx.Metrics))
	missing, err := scheduler.Missing(ctx, r, now)
	if err != nil {
		return err
	}

	out := ctx.Command.OutOrStdout()
	if len(missing) == 0 {
		_, _ = fmt.Fprintln(out, "complete: no missing instances")
		return nil
	}
	_, _ = fmt.Fprintln(out, renderInstances(missing))
	return nil
}
