package sweep

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/instrument"
)

const (
	DefaultSettle    = 500 * time.Millisecond
	DefaultPassDelay = 500 * time.Millisecond
)

// Option configures a Controller.
type Option func(*Controller)

// WithSettle sets the wait between a voltage command and the current read.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// WithPassDelay sets the wait after each completed pass.
func WithPassDelay(d time.Duration) Option {
	return func(c *Controller) { c.passDelay = d }
}

// WithConfigure makes every sweep configure the channel before its first pass.
func WithConfigure(limitCurrent float64, autozero instrument.AutozeroMode) Option {
	return func(c *Controller) {
		c.configure = true
		c.limitCurrent = limitCurrent
		c.autozero = autozero
	}
}

// WithStateListener registers fn to be called from the sweep goroutine on
// every state change. fn must not block.
func WithStateListener(fn func(*Sweep, State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// Controller runs sweeps against one channel, one sweep at a time.
type Controller struct {
	ch instrument.Channel

	settle       time.Duration
	passDelay    time.Duration
	configure    bool
	limitCurrent float64
	autozero     instrument.AutozeroMode
	onState      func(*Sweep, State)
	sleep        func(time.Duration)

	mu       sync.Mutex
	current  *Sweep
	seq      int64
	starting int
}

// NewController returns a controller owning ch while a sweep runs.
func NewController(ch instrument.Channel, opts ...Option) *Controller {
	c := &Controller{
		ch:        ch,
		settle:    DefaultSettle,
		passDelay: DefaultPassDelay,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start validates r and launches a sweep on its own goroutine. A sweep that is
// still running is cancelled and waited for first, so commands from two sweeps
// never interleave. ctx bounds the whole sweep; cancelling it cancels the
// sweep.
func (c *Controller) Start(ctx context.Context, r VoltageRange) (*Sweep, error) {
	return c.start(ctx, r, true)
}

// TryStart is like Start but never preempts. It returns ErrBusy while a sweep
// is running or another start is waiting for one to stop.
func (c *Controller) TryStart(ctx context.Context, r VoltageRange) (*Sweep, error) {
	return c.start(ctx, r, false)
}

func (c *Controller) start(ctx context.Context, r VoltageRange, preempt bool) (*Sweep, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !preempt && (c.starting > 0 || c.running()) {
		c.mu.Unlock()
		return nil, ErrBusy
	}

	// The lock is released while the previous sweep winds down, so Current
	// and Cancel stay responsive. starting keeps TryStart out meanwhile.
	c.starting++
	for c.running() {
		prev := c.current
		logrus.WithFields(logrus.Fields{
			"id":    prev.ID,
			"state": prev.State(),
		}).Info("preempting running sweep")
		prev.Cancel()

		c.mu.Unlock()
		<-prev.Done()
		c.mu.Lock()
	}
	c.starting--

	ctx, cancel := context.WithCancel(ctx)
	c.seq++
	s := newSweep(c.seq, r, cancel)
	c.current = s
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"id":        s.ID,
		"start":     r.Start,
		"stop":      r.Stop,
		"step":      r.Step,
		"direction": r.Direction,
	}).Info("sweep starting")

	go c.run(ctx, s)
	return s, nil
}

// running must be called with c.mu held.
func (c *Controller) running() bool {
	return c.current != nil && !c.current.finished()
}

// Running reports whether a sweep is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running()
}

// Current returns the most recent sweep, or nil.
func (c *Controller) Current() *Sweep {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// Cancel requests cancellation of the current sweep. It reports whether a
// running sweep was found.
func (c *Controller) Cancel() bool {
	s := c.Current()
	if s == nil || s.State().Terminal() {
		return false
	}
	s.Cancel()
	return true
}

func (c *Controller) run(ctx context.Context, s *Sweep) {
	defer s.cancel()

	if c.configure {
		if err := c.ch.Configure(c.limitCurrent, c.autozero); err != nil {
			if oerr := c.ch.SetOutput(false); oerr != nil {
				logrus.Debugf("failed to disable output after configure error: %v", oerr)
			}
			c.finish(s, StateFailed, pkgerrors.Wrap(err, "failed to configure channel"))
			return
		}
	}

	outcome := StateCompleted
	var sweepErr error

	for _, p := range s.Range.Direction.Passes() {
		if ctx.Err() != nil {
			outcome = StateCancelled
			break
		}
		c.setState(s, p.state())

		run, cancelled, err := c.pass(ctx, s.Range, p)
		s.emit(run)

		logrus.WithFields(logrus.Fields{
			"pass":    p,
			"samples": len(run.Points),
			"partial": run.Partial,
		}).Info("pass finished")

		if err != nil {
			outcome = StateFailed
			sweepErr = err
			break
		}
		if cancelled {
			outcome = StateCancelled
			break
		}
	}

	if err := c.ch.SetOutput(false); err != nil {
		logrus.Errorf("failed to disable output after sweep: %v", err)
		if sweepErr == nil {
			outcome = StateFailed
			sweepErr = pkgerrors.Wrap(err, "failed to disable output")
		}
	}

	c.finish(s, outcome, sweepErr)
}

// pass executes one pass. It stops at the first checkpoint after ctx is
// cancelled and reports that as cancelled.
func (c *Controller) pass(ctx context.Context, r VoltageRange, p Pass) (Run, bool, error) {
	voltages := r.Voltages(p)
	run := Run{
		Pass:      p,
		Points:    make([]SamplePoint, 0, len(voltages)),
		StartedAt: time.Now(),
	}

	for _, v := range voltages {
		if ctx.Err() != nil {
			run.Partial = true
			run.FinishedAt = time.Now()
			return run, true, nil
		}

		if err := c.ch.SetVoltage(v); err != nil {
			run.Partial = true
			run.FinishedAt = time.Now()
			return run, false, pkgerrors.Wrapf(err, "%s pass failed at %g V", p, v)
		}
		c.sleep(c.settle)

		i, err := c.ch.ReadCurrent()
		if err != nil {
			run.Partial = true
			run.FinishedAt = time.Now()
			return run, false, pkgerrors.Wrapf(err, "%s pass failed at %g V", p, v)
		}
		run.Points = append(run.Points, SamplePoint{Voltage: v, Current: i})

		logrus.WithFields(logrus.Fields{
			"pass":    p,
			"voltage": v,
			"current": i,
		}).Trace("sample")
	}

	if c.passDelay > 0 {
		c.sleep(c.passDelay)
	}
	run.FinishedAt = time.Now()
	return run, false, nil
}

func (c *Controller) setState(s *Sweep, st State) {
	s.setState(st)
	if c.onState != nil {
		c.onState(s, st)
	}
}

func (c *Controller) finish(s *Sweep, st State, err error) {
	fields := logrus.Fields{"id": s.ID, "state": st, "runs": len(s.Collected())}
	if err != nil {
		logrus.WithFields(fields).Errorf("sweep failed: %v", err)
	} else {
		logrus.WithFields(fields).Info("sweep finished")
	}

	// The listener sees the outcome before the state turns terminal, so a
	// caller that waits for Done also waits for the listener.
	s.closeRuns(err)
	if c.onState != nil {
		c.onState(s, st)
	}
	s.terminate(st)
}
