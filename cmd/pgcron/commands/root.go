// Package commands implements pgcron's CLI using cobra: one file per
// subcommand, a NewRootCmd that wires them together.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command and registers every subcommand.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgcron",
		Short: "pgcron - an in-process periodic job scheduler",
		Long: `pgcron runs a cron-style scheduler that dispatches SQL commands
against a target database on a schedule.

Examples:
  pgcron serve
  pgcron schedule "0 * * * *" "SELECT 1"
  pgcron list
  pgcron unschedule 3`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newScheduleCmd(),
		newUnscheduleCmd(),
		newAlterCmd(),
		newListCmd(),
		newRunNowCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the pgcron config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
