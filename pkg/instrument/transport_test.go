package instrument

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
)

// fakeInstrument answers every line on conn with replies[line].
func fakeInstrument(t *testing.T, conn net.Conn, replies map[string]string) {
	t.Helper()
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if reply, ok := replies[strings.TrimSpace(line)]; ok {
				_, _ = conn.Write([]byte(reply + "\r\n"))
			}
		}
	}()
}

func TestLineTransportQuery(t *testing.T) {
	client, server := net.Pipe()
	fakeInstrument(t, server, map[string]string{
		"print(smua.measure.i())": "-1.28000e-03",
		"print(smub.measure.i())": "",
	})

	tr := NewLineTransport("pipe", client)
	defer tr.Close()

	k := NewKeithley(tr, SMUA)
	if err := k.SetVoltage(0.5); err != nil {
		t.Fatalf("SetVoltage failed: %v", err)
	}
	got, err := k.ReadCurrent()
	if err != nil {
		t.Fatalf("ReadCurrent failed: %v", err)
	}
	if got != -1.28e-3 {
		t.Errorf("ReadCurrent() = %v", got)
	}

	if _, err := NewKeithley(tr, SMUB).ReadCurrent(); !errors.Is(err, ErrEmptyReply) {
		t.Errorf("empty reply error = %v", err)
	}
}

func TestLineTransportClosed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewLineTransport("pipe", client)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Write("*RST"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Write after Close: %v", err)
	}
	if _, err := tr.Query("*IDN?"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Query after Close: %v", err)
	}
}

func TestOpenResource(t *testing.T) {
	tr, err := OpenResource("mock://")
	if err != nil {
		t.Fatalf("OpenResource(mock://) failed: %v", err)
	}
	if _, ok := tr.(*MockTransport); !ok {
		t.Errorf("expected *MockTransport, got %T", tr)
	}

	if _, err := OpenResource("gpib://0/24"); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("unknown scheme error = %v", err)
	}
	if _, err := OpenResource("serial:///dev/ttyUSB0?baud=fast"); err == nil {
		t.Errorf("expected error for invalid baud rate")
	}
}

func TestOpenResourceTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		fakeInstrument(t, conn, map[string]string{"print(smub.measure.i())": "2.5e-3"})
	}()

	tr, err := OpenResource("tcp://" + l.Addr().String())
	if err != nil {
		t.Fatalf("OpenResource failed: %v", err)
	}
	defer tr.Close()

	got, err := NewKeithley(tr, SMUB).ReadCurrent()
	if err != nil {
		t.Fatalf("ReadCurrent failed: %v", err)
	}
	if got != 2.5e-3 {
		t.Errorf("ReadCurrent() = %v", got)
	}
}
