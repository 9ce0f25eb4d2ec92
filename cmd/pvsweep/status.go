package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/client"
	"github.com/charlie0129/pvsweep/pkg/config"
)

type statusData struct {
	Config   *config.RawFileConfig  `json:"config"`
	Sweep    *client.SweepStatus    `json:"sweep,omitempty"`
	Monitor  *client.MonitorStatus  `json:"monitor"`
	Schedule *client.ScheduleStatus `json:"schedule"`
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	st, err := apiClient.GetSweep(0)
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		return nil, fmt.Errorf("failed to get sweep status: %w", err)
	}

	mon, err := apiClient.GetMonitor(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor status: %w", err)
	}

	sch, err := apiClient.GetSchedule()
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return &statusData{
		Config:   conf,
		Sweep:    st,
		Monitor:  mon,
		Schedule: sch,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of pvsweep",
		Long:    `Get the latest sweep, monitor and schedule status, and the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if jsonOut {
				b, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}

			conf := config.NewFileFromConfig(data.Config, "")

			cmd.Println(bold("Latest sweep:"))
			if data.Sweep == nil {
				cmd.Println("  No sweep yet.")
			} else {
				cmd.Printf("  #%d (%s): %s, %d run(s)\n", data.Sweep.ID, data.Sweep.Trigger, stateText(data.Sweep.State), data.Sweep.Runs)
				cmd.Printf("  Started: %s\n", data.Sweep.StartedAt.Local().Format(time.DateTime))
				if data.Sweep.Error != "" {
					cmd.Printf("  Error: %s\n", data.Sweep.Error)
				}
			}
			cmd.Println()

			cmd.Println(bold("Monitor:"))
			cmd.Printf("  Running: %s\n", bool2Text(data.Monitor.Running))
			if data.Monitor.Running {
				cmd.Printf("  Healthy: %s\n", bool2Text(data.Monitor.Healthy))
			}
			if n := len(data.Monitor.Readings); n > 0 {
				rd := data.Monitor.Readings[n-1]
				cmd.Printf("  Last reading: %s (%.5e A at %s)\n", bold("%.4f", rd.Scaled), rd.Current, rd.Time.Local().Format(time.TimeOnly))
			}
			cmd.Println()

			cmd.Println(bold("Schedule:"))
			if data.Schedule.Schedule == "" {
				cmd.Println("  Not set.")
			} else {
				cmd.Printf("  %s\n", data.Schedule.Schedule)
				if len(data.Schedule.NextRuns) > 0 {
					cmd.Printf("  Next run: %s\n", data.Schedule.NextRuns[0].Local().Format(time.DateTime))
				}
			}
			cmd.Println()

			r := conf.SweepRange()
			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Instrument: %s (sweep on %s, monitor on %s)\n", bold("%s", conf.Resource()), conf.SweepChannel(), conf.MonitorChannel())
			cmd.Printf("  Current limit: %s, autozero %s\n", bold("%g A", conf.CurrentLimit()), conf.Autozero())
			cmd.Printf("  Sweep range: %s\n", bold("%g V to %g V, step %g V, %s", r.Start, r.Stop, r.Step, r.Direction))
			cmd.Printf("  Settle delay: %s, pass delay: %s\n", conf.SettleDelay(), conf.PassDelay())
			cmd.Printf("  Irradiance: %s\n", bold("%g W/m^2", conf.Irradiance()))
			cmd.Printf("  Area: %s\n", bold("%g m^2", conf.Area()))
			cmd.Printf("  Monitor mFactor %g, iscReference %g A\n", conf.MFactor(), conf.IscReference())
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print status as JSON")
	return cmd
}
