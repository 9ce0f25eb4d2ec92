package daemon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

// startMeasurement starts a sweep over r and analyzes its runs in the
// background. A sweep still running is preempted, except by scheduled sweeps,
// which fail with sweep.ErrBusy instead.
func startMeasurement(r sweep.VoltageRange, t trigger) (*measurement, error) {
	start := controller.Start
	if t == triggerSchedule {
		start = controller.TryStart
	}
	// The sweep outlives the request that started it.
	s, err := start(context.Background(), r)
	if err != nil {
		return nil, err
	}

	m := newMeasurement(s, t, conf.Irradiance(), conf.Area())
	store.add(m)
	store.consumers.Add(1)
	go func() {
		defer store.consumers.Done()
		m.consume()
	}()

	logrus.WithFields(logrus.Fields{
		"id":      m.ID,
		"trigger": t,
	}).Info("measurement started")

	return m, nil
}

func onSweepState(s *sweep.Sweep, st sweep.State) {
	ev := events.SweepStateEvent{
		ID:    s.ID,
		State: string(st),
		Ts:    time.Now().Unix(),
	}
	if st == sweep.StateFailed {
		if err := s.Snapshot().Err; err != nil {
			ev.Error = err.Error()
		}
	}
	sseHub.Publish(events.SweepState, ev)
}
