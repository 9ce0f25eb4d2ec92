package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewIrradianceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "irradiance [W/m^2]",
		Short:   "Set the irradiance used for PCE",
		GroupID: gBasic,
		Long: `Set the irradiance used for PCE, in W/m^2.

It applies to sweeps started from now on. 1000 is one sun (AM1.5G).`,
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := parseFloatArg(args, "irradiance")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetIrradiance(v)
			if err != nil {
				return fmt.Errorf("failed to set irradiance: %v", err)
			}
			logResponse(ret)

			logrus.Infof("successfully set irradiance to %g W/m^2", v)
			return nil
		},
	}
}

func NewAreaCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "area [m^2]",
		Short:   "Set the active device area used for PCE",
		GroupID: gBasic,
		Long: `Set the active device area used for PCE, in m^2.

It applies to sweeps started from now on.`,
		Example: `  pvsweep area 4.84e-6 (a 2.2 mm x 2.2 mm cell)`,
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := parseFloatArg(args, "area")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetArea(v)
			if err != nil {
				return fmt.Errorf("failed to set area: %v", err)
			}
			logResponse(ret)

			logrus.Infof("successfully set device area to %g m^2", v)
			return nil
		},
	}
}
