package instrument

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by every operation on a closed session.
	ErrSessionClosed = errors.New("instrument session closed")

	// ErrMalformedReply is returned when a query reply is not a number.
	ErrMalformedReply = errors.New("malformed numeric reply")

	// ErrEmptyReply is returned when the instrument answers with nothing.
	ErrEmptyReply = errors.New("empty reply")

	ErrUnknownChannel  = errors.New("unknown channel")
	ErrUnknownAutozero = errors.New("unknown autozero mode")
	ErrUnknownScheme   = errors.New("unknown resource scheme")

	// ErrSimulatedFailure is the default error injected by Simulated.
	ErrSimulatedFailure = errors.New("simulated transport failure")
)

// InstrumentError is a transport or protocol failure while talking to an
// instrument. It is never retried.
type InstrumentError struct {
	Op  string
	Cmd string
	Err error
}

func (e *InstrumentError) Error() string {
	if e.Cmd == "" {
		return fmt.Sprintf("instrument: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("instrument: %s %q: %v", e.Op, e.Cmd, e.Err)
}

func (e *InstrumentError) Unwrap() error { return e.Err }

// IsInstrumentError reports whether err carries an InstrumentError.
func IsInstrumentError(err error) bool {
	var ie *InstrumentError
	return errors.As(err, &ie)
}
