package instrument

import "strings"

// Channel is a single SMU channel that can force a voltage and measure the
// resulting current.
type Channel interface {
	// Configure resets the channel into DC voltage sourcing at 0 V with the
	// given current compliance and autozero policy, and enables the output.
	Configure(limitCurrent float64, autozero AutozeroMode) error
	SetVoltage(v float64) error
	ReadCurrent() (float64, error)
	SetOutput(enabled bool) error
}

// Session is a Channel bound to a connection. It is invalidated by Close.
type Session interface {
	Channel
	Name() string
	Close() error
}

// Transport is a line-oriented command/query link to an instrument.
type Transport interface {
	Write(cmd string) error
	// Query writes cmd and returns the single reply line without its
	// terminator.
	Query(cmd string) (string, error)
	Close() error
}

// AutozeroMode is the autozero policy of the measure circuit.
type AutozeroMode string

const (
	AutozeroOff  AutozeroMode = "off"
	AutozeroOnce AutozeroMode = "once"
	AutozeroAuto AutozeroMode = "auto"
)

// ParseAutozeroMode accepts off, once and auto (case-insensitive).
func ParseAutozeroMode(s string) (AutozeroMode, error) {
	switch m := AutozeroMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AutozeroOff, AutozeroOnce, AutozeroAuto:
		return m, nil
	default:
		return "", &InstrumentError{Op: "parse autozero", Cmd: s, Err: ErrUnknownAutozero}
	}
}

func (m AutozeroMode) tsp() string {
	switch m {
	case AutozeroOff:
		return "AUTOZERO_OFF"
	case AutozeroAuto:
		return "AUTOZERO_AUTO"
	default:
		return "AUTOZERO_ONCE"
	}
}

// SMU names the source-measure unit inside a TSP instrument.
type SMU string

const (
	SMUA SMU = "smua"
	SMUB SMU = "smub"
)

// ParseSMU accepts "a", "b", "smua" and "smub".
func ParseSMU(s string) (SMU, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "smua":
		return SMUA, nil
	case "b", "smub":
		return SMUB, nil
	default:
		return "", &InstrumentError{Op: "parse channel", Cmd: s, Err: ErrUnknownChannel}
	}
}
