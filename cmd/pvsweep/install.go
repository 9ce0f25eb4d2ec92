package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/config"
	"github.com/charlie0129/pvsweep/pkg/utils/service"
)

var gInstallation = "Installation:"

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install pvsweep daemon as a systemd service",
		GroupID: gInstallation,
		Long: `Install pvsweep daemon as a systemd service (system-wide).

This makes pvsweep run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the pvsweep daemon. If you want to allow non-root users to start sweeps without sudo, use the --allow-non-root-access flag.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the pvsweep daemon.")
			} else {
				logrus.Info("only root user is allowed to access the pvsweep daemon.")
			}

			// Saved first so the daemon starts with it.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = service.Install(configPath, unixSocketPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use the current binary (%s) at startup so please make sure you do not move this binary. Once it is moved or deleted, you will need to run 'pvsweep install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access pvsweep daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall pvsweep daemon",
		GroupID: gInstallation,
		Long: `Stop the pvsweep daemon and remove its systemd service.

The config file is kept. You must run this command as root.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := service.Uninstall(); err != nil {
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}
			logrus.Infof("successfully uninstalled pvsweep")
			return nil
		},
	}
}
