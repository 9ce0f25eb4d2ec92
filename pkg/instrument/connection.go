package instrument

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SimulatedScheme selects simulated channels playing back ReferenceCurve
// instead of a transport, e.g. "sim://".
const SimulatedScheme = "sim"

// Connection is one instrument with a session per SMU in use.
type Connection struct {
	Resource string

	transport Transport
	smus      []SMU
	sessions  map[SMU]Session

	mu     sync.Mutex
	closed bool
}

// Connect opens resource, resets the instrument and configures every smu for
// voltage sourcing at 0 V with the output on. All sessions share one
// transport. Connect fails if an smu is listed twice.
func Connect(resource string, limitCurrent float64, autozero AutozeroMode, smus ...SMU) (*Connection, error) {
	if len(smus) == 0 {
		smus = []SMU{SMUA}
	}

	c := &Connection{
		Resource: resource,
		smus:     smus,
		sessions: make(map[SMU]Session, len(smus)),
	}
	for _, smu := range smus {
		if _, ok := c.sessions[smu]; ok {
			return nil, fmt.Errorf("channel %s is used twice", smu)
		}
		c.sessions[smu] = nil
	}

	simulated, err := isSimulated(resource)
	if err != nil {
		return nil, err
	}

	if simulated {
		curve := ReferenceCurve()
		for _, smu := range smus {
			c.sessions[smu] = NewSimulated(string(smu), curve)
		}
	} else {
		t, err := OpenResource(resource)
		if err != nil {
			return nil, err
		}
		c.transport = t

		for _, smu := range smus {
			c.sessions[smu] = NewKeithley(t, smu)
		}
		if err := c.sessions[smus[0]].(*Keithley).Reset(); err != nil {
			_ = t.Close()
			return nil, pkgerrors.Wrapf(err, "failed to reset instrument at %s", resource)
		}
	}

	for _, smu := range smus {
		if err := c.sessions[smu].Configure(limitCurrent, autozero); err != nil {
			_ = c.Close()
			return nil, pkgerrors.Wrapf(err, "failed to configure %s", smu)
		}
	}

	logrus.WithFields(logrus.Fields{
		"resource":  resource,
		"channels":  smus,
		"simulated": simulated,
	}).Info("instrument connected")

	return c, nil
}

// Session returns the session bound to smu.
func (c *Connection) Session(smu SMU) (Session, error) {
	s, ok := c.sessions[smu]
	if !ok {
		return nil, &InstrumentError{Op: "session", Cmd: string(smu), Err: ErrUnknownChannel}
	}
	return s, nil
}

// Transport returns the shared transport, or nil for simulated channels.
func (c *Connection) Transport() Transport {
	return c.transport
}

// Close turns every output off, invalidates the sessions and closes the
// transport. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, smu := range c.smus {
		if s := c.sessions[smu]; s != nil {
			if err := s.Close(); err != nil {
				errs = append(errs, pkgerrors.Wrapf(err, "failed to close %s", smu))
			}
		}
	}
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, "failed to close transport"))
		}
	}

	logrus.WithField("resource", c.Resource).Info("instrument disconnected")
	return errors.Join(errs...)
}

func isSimulated(resource string) (bool, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to parse resource %q", resource)
	}
	return u.Scheme == SimulatedScheme, nil
}
