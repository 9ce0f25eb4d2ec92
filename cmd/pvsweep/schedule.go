package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/client"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage repeated sweeps on a cron schedule",
		Long: `Manage repeated sweeps on a cron schedule.

Scheduled sweeps use the configured range. A scheduled sweep never preempts
one that is already running; it waits for it instead.

The schedule command can be used in multiple ways:
  pvsweep schedule 'minute hour day month weekday' Set schedule with cron expression
  pvsweep schedule disable                         Disable the schedule
  pvsweep schedule postpone [duration]             Postpone next run
  pvsweep schedule skip                            Skip next run
  pvsweep schedule show                            Show current schedule`,
		Example: `  pvsweep schedule '*/10 * * * *' (Every 10 minutes)
  pvsweep schedule '@every 30s'    (Every 30 seconds, for stability runs)
  pvsweep schedule '0 9 * * 1-5'   (At 09:00 on weekdays)`,
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no arguments, show the current schedule
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			// Otherwise, treat as a cron expression to set
			return runScheduleSet(cmd, args[0])
		},
	}

	// Add subcommands
	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the sweep schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleDisable(cmd)
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled sweep",
		Example: `  pvsweep schedule postpone      (Postpone by 1 hour)
  pvsweep schedule postpone 90m  (Postpone by 90 minutes)`,
		Long: `Postpone the next scheduled sweep by a specified duration.
If no duration is provided, defaults to 1 hour. The postponed sweep must
still come before the one after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
	return cmd
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleSkip(cmd)
		},
	}
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current sweep schedule",
		Long:  "Show the current sweep schedule and next run times.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	st, err := apiClient.Schedule(cronExpr)
	if err != nil {
		return err
	}
	cmd.Printf("Sweeps scheduled (%s).", st.Schedule)
	printNextRuns(cmd, st)
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.DisableSchedule(); err != nil {
		return err
	}
	cmd.Println("Sweep schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	st, err := apiClient.PostponeSchedule(duration)
	if err != nil {
		return err
	}
	cmd.Printf("Next sweep postponed by %s.", duration)
	printNextRuns(cmd, st)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	st, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	cmd.Print("Next scheduled sweep skipped.")
	printNextRuns(cmd, st)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if st.Schedule == "" {
		cmd.Println("Sweep schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s.", bold("%s", st.Schedule))
	printNextRuns(cmd, st)
	return nil
}

func printNextRuns(cmd *cobra.Command, st *client.ScheduleStatus) {
	if len(st.NextRuns) == 0 {
		cmd.Println()
		return
	}
	cmd.Printf(" Next %d run(s):\n", len(st.NextRuns))
	for _, run := range st.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}
