// Package monitor polls a channel at a fixed interval and rescales the
// measured current into a figure relative to a reference short-circuit
// current.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = time.Second
	DefaultHistory  = 600
)

var (
	ErrAlreadyRunning = errors.New("monitor is already running")
	ErrZeroReference  = errors.New("isc reference must not be zero")
)

// Reader is the part of an instrument channel the monitor needs.
type Reader interface {
	ReadCurrent() (float64, error)
}

// Reading is one polled sample.
type Reading struct {
	Time    time.Time `json:"time"`
	Current float64   `json:"current"`
	// Scaled is MFactor * Current / IscReference.
	Scaled float64 `json:"scaled"`
}

type Options struct {
	MFactor      float64       `json:"mFactor"`
	IscReference float64       `json:"iscReference"`
	Interval     time.Duration `json:"interval"`
	// History is the number of readings kept. Defaults to DefaultHistory.
	History int `json:"history"`
	// OnReading, if set, is called from the worker for every reading.
	OnReading func(Reading) `json:"-"`
}

type Monitor struct {
	r        Reader
	opts     Options
	recorder *Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	errs   int
}

func New(r Reader, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	return &Monitor{
		r:        r,
		opts:     opts,
		recorder: NewRecorder(opts.History),
	}
}

// Start launches the polling worker. The first reading is taken immediately.
func (m *Monitor) Start() error {
	if m.opts.IscReference == 0 {
		return ErrZeroReference
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	logrus.WithFields(logrus.Fields{
		"mFactor":      m.opts.MFactor,
		"iscReference": m.opts.IscReference,
		"interval":     m.opts.Interval,
	}).Info("monitor started")

	go m.run(ctx, done)
	return nil
}

// Stop cancels the worker and waits for it to exit. It reports whether the
// monitor was running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done

	logrus.Info("monitor stopped")
	return true
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) Options() Options {
	return m.opts
}

// Readings returns the recorded readings, oldest first.
func (m *Monitor) Readings() []Reading {
	return m.recorder.Readings()
}

func (m *Monitor) Latest() (Reading, bool) {
	return m.recorder.Latest()
}

// Healthy reports whether readings have been arriving back to back for the
// last few intervals.
func (m *Monitor) Healthy() bool {
	return m.recorder.ContinuousIn(3*m.opts.Interval, m.opts.Interval) > 0
}

// ReadErrors returns the number of failed reads since New.
func (m *Monitor) ReadErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		m.poll()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll() {
	i, err := m.r.ReadCurrent()
	if err != nil {
		m.mu.Lock()
		m.errs++
		m.mu.Unlock()
		logrus.WithError(err).Warn("monitor read failed")
		return
	}

	rd := Reading{
		Time:    time.Now(),
		Current: i,
		Scaled:  m.opts.MFactor * i / m.opts.IscReference,
	}
	m.recorder.Add(rd)

	logrus.WithFields(logrus.Fields{
		"current": rd.Current,
		"scaled":  rd.Scaled,
	}).Trace("monitor reading")

	if m.opts.OnReading != nil {
		m.opts.OnReading(rd)
	}
}
