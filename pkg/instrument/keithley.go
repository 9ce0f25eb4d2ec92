package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var _ Session = &Keithley{}

// Keithley drives one SMU of a TSP-scripted Keithley 26xx source meter.
// Several Keithley values may share one Transport, one per SMU.
type Keithley struct {
	t   Transport
	smu SMU

	mu     sync.Mutex
	closed bool
}

// NewKeithley binds smu on t. The transport stays owned by the caller.
func NewKeithley(t Transport, smu SMU) *Keithley {
	return &Keithley{t: t, smu: smu}
}

// Name returns the SMU name, e.g. "smua".
func (k *Keithley) Name() string {
	return string(k.smu)
}

// Reset sends *RST to the whole instrument, affecting every SMU.
func (k *Keithley) Reset() error {
	return k.write("reset", "*RST")
}

func (k *Keithley) Configure(limitCurrent float64, autozero AutozeroMode) error {
	logrus.WithFields(logrus.Fields{
		"smu":          k.smu,
		"limitCurrent": limitCurrent,
		"autozero":     autozero,
	}).Debug("configuring channel")

	cmds := []string{
		fmt.Sprintf("%s.reset()", k.smu),
		fmt.Sprintf("%s.source.func = %s.OUTPUT_DCVOLTS", k.smu, k.smu),
		fmt.Sprintf("%s.source.levelv = 0", k.smu),
		fmt.Sprintf("%s.source.limiti = %s", k.smu, formatNumber(limitCurrent)),
		fmt.Sprintf("%s.measure.autozero = %s.%s", k.smu, k.smu, autozero.tsp()),
		fmt.Sprintf("%s.source.output = %s.OUTPUT_ON", k.smu, k.smu),
	}
	for _, cmd := range cmds {
		if err := k.write("configure", cmd); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keithley) SetVoltage(v float64) error {
	return k.write("set voltage", fmt.Sprintf("%s.source.levelv = %s", k.smu, formatNumber(v)))
}

func (k *Keithley) ReadCurrent() (float64, error) {
	cmd := fmt.Sprintf("print(%s.measure.i())", k.smu)
	if err := k.check("read current", cmd); err != nil {
		return 0, err
	}

	reply, err := k.t.Query(cmd)
	if err != nil {
		return 0, wrapInstrumentError("read current", cmd, err)
	}
	return parseReply(cmd, reply)
}

func (k *Keithley) SetOutput(enabled bool) error {
	state := "OUTPUT_OFF"
	if enabled {
		state = "OUTPUT_ON"
	}
	return k.write("set output", fmt.Sprintf("%s.source.output = %s.%s", k.smu, k.smu, state))
}

// Close disables the output and invalidates the session. The transport is
// left open for other SMUs sharing it.
func (k *Keithley) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.mu.Unlock()

	err := k.SetOutput(false)

	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()

	logrus.WithField("smu", k.smu).Debug("session closed")
	return err
}

func (k *Keithley) check(op, cmd string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return &InstrumentError{Op: op, Cmd: cmd, Err: ErrSessionClosed}
	}
	return nil
}

func (k *Keithley) write(op, cmd string) error {
	if err := k.check(op, cmd); err != nil {
		return err
	}
	if err := k.t.Write(cmd); err != nil {
		return wrapInstrumentError(op, cmd, err)
	}
	return nil
}

func wrapInstrumentError(op, cmd string, err error) error {
	if IsInstrumentError(err) {
		return err
	}
	return &InstrumentError{Op: op, Cmd: cmd, Err: err}
}

// parseReply parses a single numeric ASCII reply. Anything else is a
// protocol error.
func parseReply(cmd, reply string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = strconv.ErrRange
	}
	if err != nil {
		return 0, &InstrumentError{
			Op:  "parse reply",
			Cmd: cmd,
			Err: fmt.Errorf("%w: %q", ErrMalformedReply, reply),
		}
	}
	return v, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
