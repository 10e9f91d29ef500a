package cmd

import (
	"fmt"

	"github.com/dagu-org/rangeload/internal/cmn/config"
	"github.com/spf13/cobra"
)

// Version returns the command that prints the build version.
func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.Version)
			return err
		},
	}
}
