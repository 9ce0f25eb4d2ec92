package instrument

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var _ Session = &Simulated{}

// CurrentFunc maps a sourced voltage to the current a simulated device draws.
type CurrentFunc func(v float64) float64

// FixedCurrent always returns i.
func FixedCurrent(i float64) CurrentFunc {
	return func(float64) float64 { return i }
}

// Call is one recorded operation on a Simulated channel.
type Call struct {
	Op    string
	Value float64
}

// Simulated is an offline Channel. It never touches a transport.
type Simulated struct {
	name    string
	current CurrentFunc

	// FailReadAt makes the n-th ReadCurrent call (1-based) fail with ReadErr.
	FailReadAt int
	ReadErr    error
	// FailSetAt makes the n-th SetVoltage call (1-based) fail with SetErr. The
	// level is left unchanged.
	FailSetAt int
	SetErr    error
	// OnRead is called after every successful read with its 1-based index.
	OnRead func(n int)

	mu      sync.Mutex
	calls   []Call
	level   float64
	output  bool
	reads   int
	sets    int
	closed  bool
	limit   float64
	zeroing AutozeroMode
}

// NewSimulated returns a simulated channel drawing f(v). A nil f reads 0 A.
func NewSimulated(name string, f CurrentFunc) *Simulated {
	if f == nil {
		f = FixedCurrent(0)
	}
	return &Simulated{name: name, current: f}
}

func (s *Simulated) Name() string {
	return s.name
}

func (s *Simulated) Configure(limitCurrent float64, autozero AutozeroMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record("configure", limitCurrent); err != nil {
		return err
	}
	s.level = 0
	s.limit = limitCurrent
	s.zeroing = autozero
	s.output = true
	return nil
}

func (s *Simulated) SetVoltage(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record("set voltage", v); err != nil {
		return err
	}
	s.sets++
	if s.FailSetAt > 0 && s.sets == s.FailSetAt {
		err := s.SetErr
		if err == nil {
			err = ErrSimulatedFailure
		}
		return &InstrumentError{Op: "set voltage", Cmd: s.name, Err: err}
	}
	s.level = v
	return nil
}

func (s *Simulated) ReadCurrent() (float64, error) {
	s.mu.Lock()
	if err := s.record("read current", s.level); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.reads++
	n := s.reads
	if s.FailReadAt > 0 && n == s.FailReadAt {
		err := s.ReadErr
		s.mu.Unlock()
		if err == nil {
			err = ErrSimulatedFailure
		}
		return 0, &InstrumentError{Op: "read current", Cmd: s.name, Err: err}
	}
	i := s.current(s.level)
	if s.output && s.limit > 0 {
		i = clamp(i, -s.limit, s.limit)
	}
	hook := s.OnRead
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"channel": s.name,
		"voltage": s.level,
		"current": i,
	}).Trace("simulated read")

	if hook != nil {
		hook(n)
	}
	return i, nil
}

func (s *Simulated) SetOutput(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := 0.0
	if enabled {
		v = 1
	}
	if err := s.record("set output", v); err != nil {
		return err
	}
	s.output = enabled
	return nil
}

// Close disables the output and invalidates the channel.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.output = false
	s.closed = true
	return nil
}

// record must be called with s.mu held.
func (s *Simulated) record(op string, v float64) error {
	if s.closed {
		return &InstrumentError{Op: op, Cmd: s.name, Err: ErrSessionClosed}
	}
	s.calls = append(s.calls, Call{Op: op, Value: v})
	return nil
}

// Calls returns a copy of every recorded operation.
func (s *Simulated) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// Output reports whether the simulated output is enabled.
func (s *Simulated) Output() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.output
}

// Voltages returns every voltage commanded through SetVoltage, in order.
func (s *Simulated) Voltages() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var vs []float64
	for _, c := range s.calls {
		if c.Op == "set voltage" {
			vs = append(vs, c.Value)
		}
	}
	return vs
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
