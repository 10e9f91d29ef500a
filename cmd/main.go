package main

import (
	"os"
	_ "time/tzdata"

	"github.com/dagu-org/rangeload/internal/cmd"
	"github.com/dagu-org/rangeload/internal/cmn/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "rangeload loads parameterized batches into relational tables exactly once",
	Long: `rangeload loads parameterized batches into relational tables exactly once.

Every load writes its rows and a completion marker in one transaction. The
markers are the only record of what has been loaded: gaps in a date range
are found by comparing the calendar against them.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Run())
	rootCmd.AddCommand(cmd.Missing())
	rootCmd.AddCommand(cmd.Backfill())
	rootCmd.AddCommand(cmd.Scheduler())
	rootCmd.AddCommand(cmd.Version())

	config.Version = version
}

var version = "0.0.0"
