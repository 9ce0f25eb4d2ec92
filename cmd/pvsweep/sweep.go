package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/client"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

func NewSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sweep",
		Short:   "Start, cancel and inspect sweeps run by the daemon",
		GroupID: gBasic,
		Long: `Start, cancel and inspect sweeps run by the daemon.

A sweep steps the voltage from start towards stop (stop itself excluded) and
reads the current at every step. Direction "Both" retraces from stop back to
start after the forward pass. Every pass is analyzed with the irradiance and
area in effect when the sweep started.`,
	}

	cmd.AddCommand(
		newSweepStartCommand(),
		newSweepCancelCommand(),
		newSweepStatusCommand(),
		newSweepListCommand(),
		newSweepRunsCommand(),
		newSweepExportCommand(),
	)

	return cmd
}

func newSweepStartCommand() *cobra.Command {
	var (
		start, stop, step float64
		direction         string
		save, wait        bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a sweep, preempting one that is still running",
		Example: `  pvsweep sweep start
  pvsweep sweep start --start -0.2 --stop 0.6 --step 0.01 --direction both --wait
  pvsweep sweep start --step 0.02 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req client.SweepRequest
			f := cmd.Flags()
			if f.Changed("start") {
				req.Start = &start
			}
			if f.Changed("stop") {
				req.Stop = &stop
			}
			if f.Changed("step") {
				req.Step = &step
			}
			if f.Changed("direction") {
				req.Direction = &direction
			}
			req.Save = save

			st, err := apiClient.StartSweep(req)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"id":        st.ID,
				"start":     st.Range.Start,
				"stop":      st.Range.Stop,
				"step":      st.Range.Step,
				"direction": st.Range.Direction,
			}).Info("sweep started")

			if !wait {
				return nil
			}
			st, err = waitSweep(st.ID)
			if err != nil {
				return err
			}
			return printSweepResult(cmd, st)
		},
	}

	f := cmd.Flags()
	f.Float64Var(&start, "start", 0, "start voltage in V (default from config)")
	f.Float64Var(&stop, "stop", 0, "stop voltage in V, excluded (default from config)")
	f.Float64Var(&step, "step", 0, "voltage step in V (default from config)")
	f.StringVarP(&direction, "direction", "d", "", "forward, reverse or both (default from config)")
	f.BoolVar(&save, "save", false, "make this range the configured default")
	f.BoolVarP(&wait, "wait", "w", false, "wait for the sweep to finish and print its results")

	return cmd
}

// waitSweep polls the daemon until sweep id is terminal and all its runs are
// analyzed.
func waitSweep(id int64) (*client.SweepStatus, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		<-ticker.C
		st, err := apiClient.GetSweep(id)
		if err != nil {
			return nil, err
		}
		if !st.State.Terminal() {
			logrus.WithField("state", st.State).Debug("waiting for sweep")
			continue
		}
		runs, err := apiClient.GetRuns(id)
		if err != nil {
			return nil, err
		}
		if len(runs) >= st.Runs {
			return st, nil
		}
	}
}

func printSweepResult(cmd *cobra.Command, st *client.SweepStatus) error {
	printSweepStatus(cmd, st)

	runs, err := apiClient.GetRuns(st.ID)
	if err != nil {
		return err
	}
	for _, r := range runs {
		cmd.Println()
		printParameters(cmd, r.Pass, len(r.Points), r.Partial, r.Parameters, r.AnalysisError)
	}
	if st.State == sweep.StateFailed {
		return fmt.Errorf("sweep %d failed: %s", st.ID, st.Error)
	}
	return nil
}

func printSweepStatus(cmd *cobra.Command, st *client.SweepStatus) {
	cmd.Printf("Sweep %s (%s): %s\n", bold("#%d", st.ID), st.Trigger, stateText(st.State))
	cmd.Printf("  Range: %s\n", bold("%g V to %g V, step %g V, %s", st.Range.Start, st.Range.Stop, st.Range.Step, st.Range.Direction))
	cmd.Printf("  Started: %s\n", st.StartedAt.Local().Format(time.DateTime))
	cmd.Printf("  Runs: %d\n", st.Runs)
	cmd.Printf("  Irradiance: %g W/m^2, area: %g m^2\n", st.Irradiance, st.Area)
	if st.Error != "" {
		cmd.Printf("  Error: %s\n", st.Error)
	}
}

func newSweepCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running sweep",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.CancelSweep()
			if err != nil {
				return fmt.Errorf("failed to cancel sweep: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func newSweepStatusCommand() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a sweep (the latest by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetSweep(id)
			if err != nil {
				return err
			}
			printSweepStatus(cmd, st)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "sweep id (default latest)")
	return cmd
}

func newSweepListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the sweeps the daemon remembers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := apiClient.ListSweeps()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				cmd.Println("No sweeps yet.")
				return nil
			}
			for _, st := range list {
				cmd.Printf("#%-4d %s  %-11s %d run(s)  %s\n",
					st.ID, st.StartedAt.Local().Format(time.DateTime), st.State, st.Runs, st.Trigger)
			}
			return nil
		},
	}
}

func newSweepRunsCommand() *cobra.Command {
	var (
		id      int64
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the runs and parameters of a sweep (the latest by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := apiClient.GetRuns(id)
			if err != nil {
				return err
			}
			if jsonOut {
				b, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			if len(runs) == 0 {
				cmd.Println("No runs yet.")
			}
			for i, r := range runs {
				if i > 0 {
					cmd.Println()
				}
				printParameters(cmd, r.Pass, len(r.Points), r.Partial, r.Parameters, r.AnalysisError)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "sweep id (default latest)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print runs with all samples as JSON")
	return cmd
}

func newSweepExportCommand() *cobra.Command {
	var (
		id     int64
		pass   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one pass of a sweep as text",
		Example: `  pvsweep sweep export
  pvsweep sweep export --pass reverse -o cell7-reverse.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := apiClient.ExportRun(id, sweep.Pass(pass))
			if err != nil {
				return err
			}
			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			}
			if err := os.WriteFile(output, []byte(text), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			logrus.Infof("exported %s pass to %s", pass, output)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&id, "id", 0, "sweep id (default latest)")
	f.StringVarP(&pass, "pass", "p", string(sweep.PassForward), "forward or reverse")
	f.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
