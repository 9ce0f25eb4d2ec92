package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/client"
)

func NewMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "monitor",
		Short:   "Continuously read the reference cell on the monitor channel",
		GroupID: gBasic,
		Long: `Continuously read the reference cell on the monitor channel.

Every reading is scaled as mFactor * current / iscReference, so a reference
cell under the calibrated light level reads mFactor.`,
	}

	cmd.AddCommand(
		newMonitorStartCommand(),
		newMonitorStopCommand(),
		newMonitorShowCommand(),
	)

	return cmd
}

func newMonitorStartCommand() *cobra.Command {
	var (
		mFactor, iscRef float64
		interval        time.Duration
		save            bool
	)

	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the monitor",
		Example: `  pvsweep monitor start --isc-ref -0.00127 --m-factor 1.02 --save`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req client.MonitorRequest
			f := cmd.Flags()
			if f.Changed("m-factor") {
				req.MFactor = &mFactor
			}
			if f.Changed("isc-ref") {
				req.IscReference = &iscRef
			}
			if f.Changed("interval") {
				ms := int(interval / time.Millisecond)
				req.IntervalMs = &ms
			}
			req.Save = save

			ret, err := apiClient.StartMonitor(req)
			if err != nil {
				return fmt.Errorf("failed to start monitor: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&mFactor, "m-factor", 1, "mismatch factor (default from config)")
	f.Float64Var(&iscRef, "isc-ref", 0, "short-circuit current of the reference cell in A (default from config)")
	f.DurationVar(&interval, "interval", time.Second, "polling interval (default from config)")
	f.BoolVar(&save, "save", false, "make m-factor and isc-ref the configured defaults")
	return cmd
}

func newMonitorStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the monitor and turn its channel off",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.StopMonitor()
			if err != nil {
				return fmt.Errorf("failed to stop monitor: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func newMonitorShowCommand() *cobra.Command {
	var (
		n      int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the latest monitor readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetMonitor(n)
			if err != nil {
				return err
			}

			health := color.RedString("stale")
			if st.Healthy {
				health = color.GreenString("healthy")
			}
			cmd.Printf("Monitor on %s: running %s, %s", st.Channel, bool2Text(st.Running), health)
			if st.ReadErrors > 0 {
				cmd.Printf(", %d read error(s)", st.ReadErrors)
			}
			cmd.Println()
			if st.Options != nil {
				cmd.Printf("  mFactor %g, iscReference %g A, every %s\n", st.Options.MFactor, st.Options.IscReference, st.Options.Interval)
			}
			for _, rd := range st.Readings {
				cmd.Printf("  %s  %12.5e A  %s\n", rd.Time.Local().Format(time.TimeOnly), rd.Current, bold("%.4f", rd.Scaled))
			}

			if !follow {
				return nil
			}
			return followReadings(cmd)
		},
	}

	cmd.Flags().IntVarP(&n, "count", "n", 10, "number of readings to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new readings")
	return cmd
}
