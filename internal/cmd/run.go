package cmd

import (
	"context"
	"fmt"

	"github.com/dagu-org/rangeload/internal/cmn/config"
	"github.com/dagu-org/rangeload/internal/cmn/logger"
	"github.com/dagu-org/rangeload/internal/cmn/logger/tag"
	"github.com/dagu-org/rangeload/internal/core"
	"github.com/spf13/cobra"
)

// Run returns the command that loads a single instance.
func Run() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "run --date=<instance> [flags]",
			Short: "Load one instance of the configured family",
			Long: `Load the rows of one instance into the target table and record its
completion marker in the same transaction.

Example:
  rangeload run --date=2015-01-02 -c config.yaml

An instance that is already marked is reported as a duplicate; nothing is
written.
`,
		}, runFlags, runLoad,
	)
}

var runFlags = []commandLineFlag{dateFlag}

func runLoad(ctx *Context, _ []string) error {
	if err := ctx.Config.ValidateLoad(); err != nil {
		return err
	}
	family, err := ctx.Family()
	if err != nil {
		return err
	}
	at, err := config.ParseTime(ctx.flag("date"), family.Loc())
	if err != nil || at.IsZero() {
		return fmt.Errorf("%w: invalid --date %q", core.ErrInvalidConfig, ctx.flag("date"))
	}
	inst := family.Instance(at)

	session, err := ctx.OpenSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	src, err := ctx.RowSource(session)
	if err != nil {
		return err
	}
	task, err := ctx.NewTask(session, src, inst)
	if err != nil {
		return err
	}

	runCtx := context.Context(ctx)
	if timeout := ctx.Config.Database.StatementTimeout; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	result, err := task.Run(runCtx)
	if err != nil {
		return err
	}
	if result.Duplicate {
		logger.Info(ctx, "Instance already loaded", tag.Identity(inst.Identity.String()))
	}
	_, _ = fmt.Fprintln(ctx.Command.OutOrStdout(), renderResult(ctx.palette(), result))
	return nil
}
