package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	required                             bool
	isBool                               bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is ./config.yaml or $XDG_CONFIG_HOME/rangeload/config.yaml)",
	}
	envFileFlag = commandLineFlag{
		name:  "env-file",
		usage: "dotenv file loaded before environment overrides",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output",
		isBool:    true,
	}
	dateFlag = commandLineFlag{
		name:      "date",
		shorthand: "d",
		usage:     "instance to load, e.g. 2015-01-02 (daily) or 2015-01-02T15 (hourly)",
		required:  true,
	}
	startFlag = commandLineFlag{
		name:  "start",
		usage: "inclusive range start; overrides range.start",
	}
	stopFlag = commandLineFlag{
		name:  "stop",
		usage: "exclusive range stop; overrides range.stop",
	}
	nowFlag = commandLineFlag{
		name:  "now",
		usage: "evaluate the range at this time instead of the current time",
	}
	taskLimitFlag = commandLineFlag{
		name:  "task-limit",
		usage: "maximum number of instances to load in this pass; overrides backfill.taskLimit",
	}
	scheduleFlag = commandLineFlag{
		name:  "schedule",
		usage: "cron expression; overrides scheduler.schedule",
	}
)

// initFlags registers the common flags and flags on cmd.
func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	flags = append([]commandLineFlag{configFlag, envFileFlag, quietFlag}, flags...)
	for _, flag := range flags {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
		} else {
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}

func stringFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
