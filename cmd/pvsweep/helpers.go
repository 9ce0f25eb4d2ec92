package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/analysis"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

func parseFloatArg(args []string, valueName string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

func logResponse(ret string) {
	if ret != "" {
		logrus.Infof("daemon responded: %s", ret)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func stateText(st sweep.State) string {
	switch st {
	case sweep.StateCompleted:
		return color.New(color.Bold, color.FgGreen).Sprint(st)
	case sweep.StateFailed:
		return color.New(color.Bold, color.FgRed).Sprint(st)
	case sweep.StateCancelled:
		return color.New(color.Bold, color.FgYellow).Sprint(st)
	case sweep.StateForwardPass, sweep.StateReversePass:
		return color.New(color.Bold, color.FgCyan).Sprint(st)
	default:
		return bold("%s", st)
	}
}

func printParameters(cmd *cobra.Command, pass sweep.Pass, points int, partial bool, p *analysis.Parameters, analysisErr string) {
	title := fmt.Sprintf("%s pass (%d samples", pass, points)
	if partial {
		title += ", partial"
	}
	title += "):"
	cmd.Println(bold("%s", title))

	if p == nil {
		cmd.Printf("  %s\n", color.RedString("%s", analysisErr))
		return
	}
	cmd.Printf("  Voc: %s\n", bold("%.4f V", p.Voc))
	cmd.Printf("  Isc: %s\n", bold("%.4e A", p.Isc))
	cmd.Printf("  Fill factor: %s\n", bold("%.3f", p.FillFactor))
	cmd.Printf("  Max power: %s at %s\n", bold("%.4e W", p.MaxPower), bold("%.4f V", p.MPPVoltage))
	cmd.Printf("  PCE: %s\n", bold("%.3f %%", p.PCE))
}
