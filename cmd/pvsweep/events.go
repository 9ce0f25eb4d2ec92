package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/pvsweep/pkg/events"
)

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Print daemon events as they happen",
		GroupID: gAdvanced,
		Long: `Print daemon events as they happen, until interrupted.

Events are sweep.state, sweep.pass, monitor.reading, schedule.upcoming,
schedule.action and schedule.error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			for ev := range apiClient.SubscribeEvents(ctx) {
				logrus.WithField("event", ev.Name).Debug("new event")
				printEvent(cmd, ev)
			}
			return nil
		},
	}
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	now := time.Now().Format(time.TimeOnly)

	switch ev.Name {
	case events.SweepState:
		p, err := events.DecodeAs[events.SweepStateEvent](ev)
		if err != nil {
			logrus.WithError(err).Error("failed to decode sweep.state event")
			return
		}
		cmd.Printf("%s sweep #%d %s", now, p.ID, p.State)
		if p.Error != "" {
			cmd.Printf(": %s", p.Error)
		}
		cmd.Println()
	case events.SweepPass:
		p, err := events.DecodeAs[events.SweepPassEvent](ev)
		if err != nil {
			logrus.WithError(err).Error("failed to decode sweep.pass event")
			return
		}
		if p.AnalysisError != "" {
			cmd.Printf("%s sweep #%d %s pass, %d samples: %s\n", now, p.ID, p.Pass, p.Points, p.AnalysisError)
			return
		}
		cmd.Printf("%s sweep #%d %s pass, %d samples: Voc %.4f V, Isc %.4e A, FF %.3f, PCE %.3f %%\n",
			now, p.ID, p.Pass, p.Points, p.Voc, p.Isc, p.FillFactor, p.PCE)
	case events.MonitorReading:
		p, err := events.DecodeAs[events.MonitorReadingEvent](ev)
		if err != nil {
			logrus.WithError(err).Error("failed to decode monitor.reading event")
			return
		}
		cmd.Printf("%s monitor %12.5e A  %.4f\n", now, p.Current, p.Scaled)
	case events.ScheduleUpcoming, events.ScheduleAction, events.ScheduleError:
		p, err := events.DecodeAs[events.ScheduleEvent](ev)
		if err != nil {
			logrus.WithError(err).Errorf("failed to decode %s event", ev.Name)
			return
		}
		cmd.Printf("%s %s: %s\n", now, ev.Name, p.Message)
	default:
		cmd.Printf("%s %s %s\n", now, ev.Name, string(ev.Data))
	}
}

// followReadings prints monitor readings until interrupted.
func followReadings(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for ev := range apiClient.SubscribeEvents(ctx) {
		if ev.Name == events.MonitorReading {
			printEvent(cmd, ev)
		}
	}
	return nil
}
