package instrument

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// MockTransport records commands and answers queries without any hardware.
type MockTransport struct {
	// DefaultReply answers queries once Replies is exhausted.
	DefaultReply string
	// Replies answers queries in order.
	Replies []string
	// FailOn makes Write or Query return the error for a matching command.
	FailOn map[string]error

	mu       sync.Mutex
	commands []string
	closed   bool
}

// NewMockTransport returns a transport whose queries all answer "0.0".
func NewMockTransport() *MockTransport {
	return &MockTransport{DefaultReply: "0.0"}
}

func (m *MockTransport) Write(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.record("write", cmd)
}

func (m *MockTransport) record(op, cmd string) error {
	if m.closed {
		return &InstrumentError{Op: op, Cmd: cmd, Err: ErrSessionClosed}
	}
	if err, ok := m.FailOn[cmd]; ok {
		return &InstrumentError{Op: op, Cmd: cmd, Err: err}
	}
	m.commands = append(m.commands, cmd)
	logrus.WithField("cmd", cmd).Trace("mock transport received command")
	return nil
}

func (m *MockTransport) Query(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("query", cmd); err != nil {
		return "", err
	}
	if len(m.Replies) > 0 {
		r := m.Replies[0]
		m.Replies = m.Replies[1:]
		return r, nil
	}
	return m.DefaultReply, nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Commands returns a copy of every command received so far.
func (m *MockTransport) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.commands...)
}
