package sweep

import (
	"math"
	"strings"
	"time"
)

// Direction selects which passes a sweep executes.
type Direction string

const (
	Forward Direction = "Forward"
	Reverse Direction = "Reverse"
	Both    Direction = "Both"
)

// ParseDirection accepts forward, reverse and both (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd", "f":
		return Forward, nil
	case "reverse", "rev", "r":
		return Reverse, nil
	case "both", "b":
		return Both, nil
	default:
		return "", &ConfigurationError{Field: "direction", Reason: "must be one of Forward, Reverse, Both, got " + s}
	}
}

// Passes returns the passes d executes, in order.
func (d Direction) Passes() []Pass {
	switch d {
	case Forward:
		return []Pass{PassForward}
	case Reverse:
		return []Pass{PassReverse}
	case Both:
		return []Pass{PassForward, PassReverse}
	default:
		return nil
	}
}

// Pass is one monotonic voltage sweep in a single direction.
type Pass string

const (
	PassForward Pass = "forward"
	PassReverse Pass = "reverse"
)

func (p Pass) state() State {
	if p == PassReverse {
		return StateReversePass
	}
	return StateForwardPass
}

// State is a sweep state. ForwardPass and ReversePass are the running states.
type State string

const (
	StateIdle        State = "Idle"
	StateForwardPass State = "ForwardPass"
	StateReversePass State = "ReversePass"
	StateCompleted   State = "Completed"
	StateCancelled   State = "Cancelled"
	StateFailed      State = "Failed"
)

// Running reports whether a pass is executing.
func (s State) Running() bool {
	return s == StateForwardPass || s == StateReversePass
}

// Terminal reports whether s is Completed, Cancelled or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// VoltageRange describes a sweep request. The reverse pass runs from Stop to
// Start with the step negated.
type VoltageRange struct {
	Start     float64   `json:"start"`
	Stop      float64   `json:"stop"`
	Step      float64   `json:"step"`
	Direction Direction `json:"direction"`
}

// Validate checks r without touching any instrument.
func (r VoltageRange) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"start", r.Start}, {"stop", r.Stop}, {"step", r.Step}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &ConfigurationError{Field: f.name, Reason: "must be a finite number"}
		}
	}
	if r.Step == 0 {
		return &ConfigurationError{Field: "step", Reason: "must not be zero"}
	}
	if r.Start == r.Stop {
		return &ConfigurationError{Field: "stop", Reason: "must differ from start"}
	}
	if (r.Stop-r.Start)*r.Step < 0 {
		return &ConfigurationError{Field: "step", Reason: "must point from start towards stop"}
	}
	if r.Direction.Passes() == nil {
		return &ConfigurationError{Field: "direction", Reason: "must be one of Forward, Reverse, Both"}
	}
	return nil
}

// Bounds returns start, stop and step of pass p.
func (r VoltageRange) Bounds(p Pass) (start, stop, step float64) {
	if p == PassReverse {
		return r.Stop, r.Start, -r.Step
	}
	return r.Start, r.Stop, r.Step
}

// Voltages enumerates the voltages pass p commands.
func (r VoltageRange) Voltages(p Pass) []float64 {
	return Enumerate(r.Bounds(p))
}

// Enumerate returns the half-open sequence start, start+step, ... that stays
// strictly before stop: n = ceil((stop-start)/step) values, v[i] = start+i*step.
// stop itself is never included, so -1..1 by 0.05 yields 40 values ending at
// 0.95.
func Enumerate(start, stop, step float64) []float64 {
	if step == 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = start + float64(i)*step
	}
	return vs
}

// SamplePoint is one (voltage, current) measurement.
type SamplePoint struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

// Run is the ordered samples of one pass. Partial runs were cut short by
// cancellation or failure.
type Run struct {
	Pass       Pass          `json:"pass"`
	Points     []SamplePoint `json:"points"`
	Partial    bool          `json:"partial"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Voltages returns the voltage column of r.
func (r Run) Voltages() []float64 {
	vs := make([]float64, len(r.Points))
	for i, p := range r.Points {
		vs[i] = p.Voltage
	}
	return vs
}

// Currents returns the current column of r.
func (r Run) Currents() []float64 {
	is := make([]float64, len(r.Points))
	for i, p := range r.Points {
		is[i] = p.Current
	}
	return is
}

// Result is the terminal outcome of a sweep. Err is set only when State is
// StateFailed.
type Result struct {
	State State `json:"state"`
	Runs  []Run `json:"runs"`
	Err   error `json:"-"`
}
