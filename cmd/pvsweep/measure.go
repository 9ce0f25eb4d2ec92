package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/analysis"
	"github.com/charlie0129/pvsweep/pkg/config"
	"github.com/charlie0129/pvsweep/pkg/instrument"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

type measureOptions struct {
	resource          string
	channel           string
	start, stop, step float64
	direction         string
	irradiance, area  float64
	output            string
}

func NewMeasureCommand() *cobra.Command {
	var o measureOptions

	cmd := &cobra.Command{
		Use:     "measure",
		Short:   "Run one sweep in-process, without the daemon",
		GroupID: gBasic,
		Long: `Run one sweep in-process, without the daemon.

Settings not given as flags come from the config file when it is readable,
otherwise from the defaults. Each analyzed pass is written as a text export,
to stdout or to <output>-<pass>.txt. Interrupting cancels the sweep and
leaves the output off.

The instrument must not be in use by a running daemon.`,
		Example: `  pvsweep measure --resource sim://
  pvsweep measure --resource serial:///dev/ttyUSB0?baud=9600 -d both -o cell7
  pvsweep measure --resource tcp://192.168.1.50:5025 --start 0 --stop 0.6 --step 0.01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadMeasureConfig()
			if err != nil {
				return err
			}
			return runMeasure(cmd, c, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.resource, "resource", "", "instrument resource, e.g. sim://, serial:///dev/ttyUSB0, tcp://host:5025 (default from config)")
	f.StringVar(&o.channel, "channel", "", "SMU channel, a or b (default from config)")
	f.Float64Var(&o.start, "start", 0, "start voltage in V (default from config)")
	f.Float64Var(&o.stop, "stop", 0, "stop voltage in V, excluded (default from config)")
	f.Float64Var(&o.step, "step", 0, "voltage step in V (default from config)")
	f.StringVarP(&o.direction, "direction", "d", "", "forward, reverse or both (default from config)")
	f.Float64Var(&o.irradiance, "irradiance", 0, "irradiance in W/m^2 (default from config)")
	f.Float64Var(&o.area, "area", 0, "device area in m^2 (default from config)")
	f.StringVarP(&o.output, "output", "o", "", "write exports to <output>-<pass>.txt instead of stdout")

	return cmd
}

// loadMeasureConfig reads the config file. A missing or unreadable file (the
// daemon's config is usually root-only) gives the defaults.
func loadMeasureConfig() (config.Config, error) {
	c, err := config.NewFile(configPath)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		logrus.Debugf("using default config: %v", err)
		return config.NewFileFromConfig(&config.RawFileConfig{}, ""), nil
	}
	return nil, pkgerrors.Wrapf(err, "failed to load config %s", configPath)
}

func runMeasure(cmd *cobra.Command, c config.Config, o measureOptions) error {
	f := cmd.Flags()

	resource := c.Resource()
	if f.Changed("resource") {
		resource = o.resource
	}
	channel := c.SweepChannel()
	if f.Changed("channel") {
		channel = o.channel
	}
	smu, err := instrument.ParseSMU(channel)
	if err != nil {
		return err
	}
	autozero, err := instrument.ParseAutozeroMode(c.Autozero())
	if err != nil {
		return pkgerrors.Wrap(err, "invalid autozero mode")
	}

	r := c.SweepRange()
	if f.Changed("start") {
		r.Start = o.start
	}
	if f.Changed("stop") {
		r.Stop = o.stop
	}
	if f.Changed("step") {
		r.Step = o.step
	}
	if f.Changed("direction") {
		if r.Direction, err = sweep.ParseDirection(o.direction); err != nil {
			return err
		}
	}
	if err := r.Validate(); err != nil {
		return err
	}

	irradiance, area := c.Irradiance(), c.Area()
	if f.Changed("irradiance") {
		irradiance = o.irradiance
	}
	if f.Changed("area") {
		area = o.area
	}

	conn, err := instrument.Connect(resource, c.CurrentLimit(), autozero, smu)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logrus.Errorf("failed to disconnect instrument: %v", err)
		}
	}()

	ch, err := conn.Session(smu)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := sweep.NewController(ch,
		sweep.WithSettle(c.SettleDelay()),
		sweep.WithPassDelay(c.PassDelay()),
	)
	s, err := ctrl.Start(ctx, r)
	if err != nil {
		return err
	}

	for run := range s.Runs() {
		p, err := analysis.Analyze(run, irradiance, area)
		if err != nil {
			printParameters(cmd, run.Pass, len(run.Points), run.Partial, nil, err.Error())
		}
		if err := writeExport(cmd, o.output, run, p); err != nil {
			return err
		}
	}

	res := s.Wait()
	logrus.WithFields(logrus.Fields{
		"state": res.State,
		"runs":  len(res.Runs),
	}).Info("sweep finished")

	switch res.State {
	case sweep.StateFailed:
		return res.Err
	case sweep.StateCancelled:
		return fmt.Errorf("sweep cancelled")
	}
	return nil
}

// writeExport writes the export of run. p is nil when run could not be
// analyzed.
func writeExport(cmd *cobra.Command, output string, run sweep.Run, p *analysis.Parameters) error {
	if output == "" {
		return analysis.WriteText(cmd.OutOrStdout(), run, p)
	}

	pass := run.Pass
	name := fmt.Sprintf("%s-%s.txt", output, pass)
	f, err := os.Create(name)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", name)
	}
	if err := analysis.WriteText(f, run, p); err != nil {
		_ = f.Close()
		return pkgerrors.Wrapf(err, "failed to write %s", name)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logrus.WithField("samples", len(run.Points)).Infof("%s pass written to %s", pass, name)
	return nil
}
