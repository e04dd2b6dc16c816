package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/citusdata/pg-cron/internal/jobstore"
)

// newScheduleCmd creates `pgcron schedule <cron> <command>`, the CLI
// analogue of cron.schedule(cron, command) and the named
// cron.schedule(name, cron, command, db?, user?, active?) overload.
func newScheduleCmd() *cobra.Command {
	var name, database, user string
	var active bool

	cmd := &cobra.Command{
		Use:   "schedule <cron> <command>",
		Short: "Register a new job",
		Long: `Register a job consisting of a cron-style schedule and a SQL
command. Fails fast with a descriptive message if the schedule does not
parse.

Examples:
  pgcron schedule "0 * * * *" "SELECT 1"
  pgcron schedule --name nightly-vacuum "0 3 * * *" "VACUUM" --database analytics`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg, newLogger(cmd, cfg))
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			owner := callerIdentity()
			targetUser := user
			if targetUser == "" {
				targetUser = owner
			}
			targetDB := database
			if targetDB == "" {
				targetDB = cfg.DatabaseName
			}

			var jobName *string
			if name != "" {
				jobName = &name
			}

			id, err := store.InsertJob(ctx, jobstore.InsertJobParams{
				ScheduleText: args[0],
				Command:      args[1],
				NodeName:     cfg.Host,
				NodePort:     5432,
				Database:     targetDB,
				UserName:     targetUser,
				JobName:      jobName,
				Active:       active,
				Owner:        owner,
				Privileged:   cfg.IsSuperuser(owner),
			})
			if err != nil {
				return fmt.Errorf("schedule: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "optional unique job name (per user)")
	cmd.Flags().StringVar(&database, "database", "", "target database (default: config database_name)")
	cmd.Flags().StringVar(&user, "user", "", "identity to dispatch as (default: caller)")
	cmd.Flags().BoolVar(&active, "active", true, "whether the job is active (inactive jobs never fire)")
	return cmd
}

// newUnscheduleCmd creates `pgcron unschedule <job_id|name>`.
func newUnscheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unschedule <job_id|name>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg, newLogger(cmd, cfg))
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			caller := callerIdentity()
			if err := store.DeleteJob(ctx, args[0], caller, cfg.IsSuperuser(caller)); err != nil {
				return fmt.Errorf("unschedule: %w", err)
			}
			return nil
		},
	}
}

// newAlterCmd creates `pgcron alter <job_id> [flags]`, the CLI analogue of
// cron.alter_job(job_id, cron?, command?, db?, user?, active?).
func newAlterCmd() *cobra.Command {
	var cronExpr, command, database, user string
	var active bool
	var setActive bool

	cmd := &cobra.Command{
		Use:   "alter <job_id>",
		Short: "Partially update a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("alter: invalid job id %q", args[0])
			}

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg, newLogger(cmd, cfg))
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			patch := jobstore.JobPatch{}
			if cronExpr != "" {
				patch.ScheduleText = &cronExpr
			}
			if command != "" {
				patch.Command = &command
			}
			if database != "" {
				patch.Database = &database
			}
			if user != "" {
				patch.UserName = &user
			}
			if setActive {
				patch.Active = &active
			}

			caller := callerIdentity()
			if err := store.AlterJob(ctx, jobstore.JobID(id), patch, caller, cfg.IsSuperuser(caller)); err != nil {
				return fmt.Errorf("alter: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "new schedule string")
	cmd.Flags().StringVar(&command, "command", "", "new SQL command")
	cmd.Flags().StringVar(&database, "database", "", "new target database")
	cmd.Flags().StringVar(&user, "user", "", "new dispatch identity")
	cmd.Flags().BoolVar(&active, "active", false, "new active flag (requires --set-active)")
	cmd.Flags().BoolVar(&setActive, "set-active", false, "apply --active")
	return cmd
}

// newListCmd creates `pgcron list`, printing every job as a tab-separated
// table.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg, newLogger(cmd, cfg))
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			jobs, err := store.ListJobs(ctx)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "JOBID\tSCHEDULE\tDATABASE\tUSERNAME\tACTIVE\tCOMMAND")
			for _, jd := range jobs {
				command := jd.Command
				if len(command) > 40 {
					command = command[:37] + "..."
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
					jd.JobID, jd.ScheduleText, jd.Database, jd.UserName, jd.Active, command)
			}
			return w.Flush()
		},
	}
}

// newRunNowCmd creates `pgcron run-now <job_id|name>`, a CLI convenience
// (not present in upstream pg_cron, see DESIGN.md) that sets run_requested
// on the job; the running scheduler's registry picks it up on its next
// reload and counts one extra pending run, independent of the job's own
// schedule.
func newRunNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <job_id|name>",
		Short: "Request one extra run on the next registry reload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
			defer cancel()

			store, err := openStore(ctx, cfg, newLogger(cmd, cfg))
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			if err := store.TriggerRun(ctx, strings.TrimSpace(args[0])); err != nil {
				return fmt.Errorf("run-now: %w", err)
			}
			return nil
		},
	}
}
