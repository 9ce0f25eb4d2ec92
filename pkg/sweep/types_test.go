package sweep

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestEnumerateBoundary(t *testing.T) {
	r := VoltageRange{Start: -1, Stop: 1, Step: 0.05, Direction: Forward}

	vs := r.Voltages(PassForward)
	if len(vs) != 40 {
		t.Fatalf("got %d voltages, want 40", len(vs))
	}
	if vs[0] != -1 {
		t.Errorf("first voltage = %v, want -1", vs[0])
	}
	if last := vs[len(vs)-1]; math.Abs(last-0.95) > eps {
		t.Errorf("last voltage = %v, want 0.95", last)
	}
	for i, v := range vs {
		if v >= 1 {
			t.Errorf("voltage %d = %v overshoots stop", i, v)
		}
		if i > 0 && v <= vs[i-1] {
			t.Errorf("voltages not strictly ascending at %d", i)
		}
	}
}

func TestEnumerate(t *testing.T) {
	tests := []struct {
		name              string
		start, stop, step float64
		want              []float64
	}{
		{name: "exact multiple excludes stop", start: 0, stop: 1, step: 0.25, want: []float64{0, 0.25, 0.5, 0.75}},
		{name: "inexact multiple keeps last below stop", start: 0, stop: 1, step: 0.3, want: []float64{0, 0.3, 0.6, 0.9}},
		{name: "descending", start: 1, stop: 0, step: -0.25, want: []float64{1, 0.75, 0.5, 0.25}},
		{name: "step larger than range", start: 0, stop: 0.1, step: 1, want: []float64{0}},
		{name: "step pointing away", start: 0, stop: 1, step: -0.1, want: nil},
		{name: "zero step", start: 0, stop: 1, step: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Enumerate(tt.start, tt.stop, tt.step)
			if len(got) != len(tt.want) {
				t.Fatalf("Enumerate() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > eps {
					t.Errorf("Enumerate()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReversePassRetracesGrid(t *testing.T) {
	r := VoltageRange{Start: -1, Stop: 1, Step: 0.05, Direction: Both}

	fwd := r.Voltages(PassForward)
	rev := r.Voltages(PassReverse)
	if len(rev) != len(fwd) {
		t.Fatalf("reverse has %d voltages, forward %d", len(rev), len(fwd))
	}
	if rev[0] != 1 {
		t.Errorf("reverse starts at %v, want 1", rev[0])
	}
	// The reverse pass walks the same grid downwards, shifted by one step
	// because both passes exclude their own stop.
	n := len(fwd)
	for k := range rev {
		if math.Abs(rev[k]-(fwd[n-1-k]+r.Step)) > eps {
			t.Errorf("rev[%d] = %v, want %v", k, rev[k], fwd[n-1-k]+r.Step)
		}
	}

	// An explicitly swapped range gives exactly the reverse pass.
	swapped := VoltageRange{Start: 1, Stop: -1, Step: -0.05, Direction: Forward}
	explicit := swapped.Voltages(PassForward)
	for k := range rev {
		if rev[k] != explicit[k] {
			t.Errorf("reverse pass %v differs from swapped range %v at %d", rev[k], explicit[k], k)
		}
	}
}

func TestVoltageRangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		r       VoltageRange
		wantErr bool
	}{
		{name: "valid", r: VoltageRange{Start: -1, Stop: 1, Step: 0.05, Direction: Both}},
		{name: "valid descending", r: VoltageRange{Start: 1, Stop: -1, Step: -0.05, Direction: Forward}},
		{name: "zero step", r: VoltageRange{Start: -1, Stop: 1, Step: 0, Direction: Forward}, wantErr: true},
		{name: "empty range", r: VoltageRange{Start: 1, Stop: 1, Step: 0.1, Direction: Forward}, wantErr: true},
		{name: "step away from stop", r: VoltageRange{Start: -1, Stop: 1, Step: -0.1, Direction: Forward}, wantErr: true},
		{name: "nan", r: VoltageRange{Start: math.NaN(), Stop: 1, Step: 0.1, Direction: Forward}, wantErr: true},
		{name: "unknown direction", r: VoltageRange{Start: -1, Stop: 1, Step: 0.1, Direction: "Sideways"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfigurationError(err) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"forward": Forward, "Reverse": Reverse, "BOTH": Both} {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDirection("up"); !IsConfigurationError(err) {
		t.Errorf("ParseDirection(up) error = %v", err)
	}
}
