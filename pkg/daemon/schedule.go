package daemon

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

func newSweepScheduler() *Scheduler {
	return NewScheduler(scheduledSweep, scheduledPreCheck, onScheduleUpcoming, onScheduleError)
}

// scheduledSweep runs the configured sweep.
func scheduledSweep() error {
	_, err := startMeasurement(conf.SweepRange(), triggerSchedule)
	return err
}

// scheduledPreCheck defers scheduled sweeps while another one runs. The start
// itself is rejected too if a sweep slips in after the check.
func scheduledPreCheck() error {
	if controller.Running() {
		return sweep.ErrBusy
	}
	return nil
}

func onScheduleUpcoming(data any) {
	runAt, _ := data.(time.Time)
	sseHub.Publish(events.ScheduleUpcoming, events.ScheduleEvent{
		Message: fmt.Sprintf("Sweep scheduled at %s", runAt.Format(time.DateTime)),
		RunAt:   runAt.Unix(),
		Ts:      time.Now().Unix(),
	})
}

func onScheduleError(data any) {
	err, _ := data.(error)
	logrus.WithError(err).Warn("scheduled sweep failed")
	sseHub.Publish(events.ScheduleError, events.ScheduleEvent{
		Message: fmt.Sprint(err),
		Ts:      time.Now().Unix(),
	})
}

// schedule sets the cron expression for scheduled sweeps. An empty expression
// disables them.
func schedule(cronExpr string) error {
	if cronExpr == "" {
		if conf.Schedule() == "" && scheduler.Expr() == "" {
			// Already disabled
			return nil
		}

		conf.SetSchedule("")
		if err := conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return fmt.Errorf("failed to save config: %w", err)
		}
		scheduler.Clear()
		publishScheduleAction("disable", "Sweep schedule disabled")
		return nil
	}

	if _, err := cronParser.Parse(cronExpr); err != nil {
		return badRequest("invalid cron expression: %v", err)
	}

	conf.SetSchedule(cronExpr)
	if err := conf.Save(); err != nil {
		logrus.WithError(err).Error("failed to save config")
		return fmt.Errorf("failed to save config: %w", err)
	}

	if err := applySchedule(cronExpr); err != nil {
		return err
	}

	next, _ := scheduler.Status()
	publishScheduleAction("schedule", fmt.Sprintf("Sweep scheduled at %s", next.Format("Jan _2 15:04")))
	return nil
}

// applySchedule (re)starts the scheduler with cronExpr without touching the
// config.
func applySchedule(cronExpr string) error {
	if err := scheduler.Schedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule sweep")
		return badRequest("invalid cron expression: %v", err)
	}
	scheduler.Start()
	return nil
}

func postpone(duration time.Duration) error {
	if err := scheduler.Postpone(duration); err != nil {
		logrus.WithError(err).Error("failed to postpone sweep")
		return err
	}

	publishScheduleAction("postpone", fmt.Sprintf("Sweep postponed for %s", duration))
	return nil
}

func skipNextSchedule() error {
	if err := scheduler.Skip(); err != nil {
		logrus.WithError(err).Error("failed to skip next scheduled sweep")
		return err
	}

	publishScheduleAction("skip", "Next scheduled sweep skipped")
	return nil
}

func publishScheduleAction(action, msg string) {
	sseHub.Publish(events.ScheduleAction, events.ScheduleEvent{
		Action:  action,
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}
