package instrument

import (
	"errors"
	"reflect"
	"testing"
)

func TestConnectMock(t *testing.T) {
	conn, err := Connect("mock://", 0.105, AutozeroOnce, SMUA, SMUB)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	mt, ok := conn.Transport().(*MockTransport)
	if !ok {
		t.Fatalf("Transport() = %T, want *MockTransport", conn.Transport())
	}

	cmds := mt.Commands()
	if len(cmds) != 13 || cmds[0] != "*RST" {
		t.Fatalf("unexpected connect sequence %q", cmds)
	}
	if cmds[1] != "smua.reset()" || cmds[7] != "smub.reset()" {
		t.Errorf("channels not configured in order: %q", cmds)
	}

	b, err := conn.Session(SMUB)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name() != "smub" {
		t.Errorf("Name() = %q", b.Name())
	}
	if _, err := b.ReadCurrent(); err != nil {
		t.Errorf("ReadCurrent failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got := mt.Commands()[len(cmds)+1:]
	want := []string{"smua.source.output = smua.OUTPUT_OFF", "smub.source.output = smub.OUTPUT_OFF"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("disconnect sent %q, want %q", got, want)
	}
	if _, err := b.ReadCurrent(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("ReadCurrent after Close = %v, want ErrSessionClosed", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestConnectSimulated(t *testing.T) {
	conn, err := Connect("sim://", 0.105, AutozeroAuto, SMUA)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	if conn.Transport() != nil {
		t.Errorf("simulated connection should have no transport")
	}
	s, err := conn.Session(SMUA)
	if err != nil {
		t.Fatal(err)
	}
	sim := s.(*Simulated)
	if !sim.Output() {
		t.Errorf("output should be on after Connect")
	}
	i, err := sim.ReadCurrent()
	if err != nil || i != -0.00127 {
		t.Errorf("ReadCurrent() at 0 V = %v, %v; want -0.00127", i, err)
	}

	if _, err := conn.Session(SMUB); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Session(smub) error = %v, want ErrUnknownChannel", err)
	}
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		smus     []SMU
	}{
		{"duplicate channel", "sim://", []SMU{SMUA, SMUA}},
		{"unknown scheme", "gpib://0/24", []SMU{SMUA}},
		{"bad url", "::", []SMU{SMUA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Connect(tt.resource, 0.1, AutozeroOnce, tt.smus...); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}
