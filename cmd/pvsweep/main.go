package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/pvsweep/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/pvsweep.sock"
	configPath     = "/etc/pvsweep.json"
)

var apiClient = client.NewClient(unixSocketPath)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: pvsweep daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'pvsweep daemon', or use 'pvsweep measure' to sweep without a daemon.")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with the '--always-allow-non-root-access' flag to grant permissions to your user")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

// commands that never talk to the daemon skip the version check.
var offlineCommands = map[string]bool{
	"daemon":    true,
	"measure":   true,
	"version":   true,
	"install":   true,
	"uninstall": true,
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pvsweep",
		Short: "pvsweep drives IV sweeps of photovoltaic cells on a source-measure unit",
		Long: `pvsweep drives IV sweeps of photovoltaic cells on a source-measure unit.

It sweeps a voltage range on one SMU channel, reads the current at each
step and derives Voc, Isc, fill factor and power conversion efficiency
from every pass. A second channel can continuously monitor a reference
cell while sweeps run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)
			if offlineCommands[cmd.Name()] {
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. pvsweep may not work as expected. Restart the daemon after upgrading.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "pvsweep daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewSweepCommand(),
		NewMeasureCommand(),
		NewMonitorCommand(),
		NewStatusCommand(),
		NewIrradianceCommand(),
		NewAreaCommand(),
		NewScheduleCommand(),
		NewEventsCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
