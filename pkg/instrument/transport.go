package instrument

import (
	"bufio"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const (
	defaultBaud    = 9600
	defaultTCPPort = "5025"
)

// lineTransport speaks newline-terminated commands over any byte stream.
type lineTransport struct {
	name string
	rwc  io.ReadWriteCloser
	r    *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// NewLineTransport wraps rwc. Commands are terminated by '\n' and replies are
// read up to the next '\n'.
func NewLineTransport(name string, rwc io.ReadWriteCloser) Transport {
	return &lineTransport{
		name: name,
		rwc:  rwc,
		r:    bufio.NewReader(rwc),
	}
}

func (t *lineTransport) Write(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.write(cmd)
}

func (t *lineTransport) write(cmd string) error {
	if t.closed {
		return &InstrumentError{Op: "write", Cmd: cmd, Err: ErrSessionClosed}
	}

	logrus.WithFields(logrus.Fields{
		"resource": t.name,
		"cmd":      cmd,
	}).Trace("Trying to write to instrument")

	if _, err := io.WriteString(t.rwc, cmd+"\n"); err != nil {
		return &InstrumentError{Op: "write", Cmd: cmd, Err: err}
	}
	return nil
}

func (t *lineTransport) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.write(cmd); err != nil {
		return "", err
	}

	line, err := t.r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", &InstrumentError{Op: "read", Cmd: cmd, Err: err}
	}
	reply := strings.TrimRight(line, "\r\n")
	if reply == "" {
		return "", &InstrumentError{Op: "read", Cmd: cmd, Err: ErrEmptyReply}
	}

	logrus.WithFields(logrus.Fields{
		"resource": t.name,
		"cmd":      cmd,
		"reply":    reply,
	}).Trace("Read from instrument succeed")

	return reply, nil
}

func (t *lineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.rwc.Close()
}

// OpenResource opens a transport from a resource URL:
//
//	serial:///dev/ttyUSB0?baud=9600
//	tcp://192.168.0.10:5025
//	mock://
//
// Serial and TCP links have no read timeout; a silent instrument blocks the
// caller.
func OpenResource(resource string) (Transport, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse resource %q", resource)
	}

	switch u.Scheme {
	case "serial":
		baud := defaultBaud
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "invalid baud rate in %q", resource)
			}
		}
		name := u.Path
		if name == "" {
			name = u.Opaque
		}
		port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
		if err != nil {
			return nil, &InstrumentError{Op: "open", Cmd: resource, Err: err}
		}
		return NewLineTransport(resource, port), nil
	case "tcp":
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), defaultTCPPort)
		}
		conn, err := net.Dial("tcp", host)
		if err != nil {
			return nil, &InstrumentError{Op: "open", Cmd: resource, Err: err}
		}
		return NewLineTransport(resource, conn), nil
	case "mock":
		return NewMockTransport(), nil
	default:
		return nil, &InstrumentError{Op: "open", Cmd: resource, Err: ErrUnknownScheme}
	}
}
