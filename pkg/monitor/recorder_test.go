package monitor

import (
	"testing"
	"time"
)

func readingsAt(ago ...time.Duration) []Reading {
	var rs []Reading
	for _, d := range ago {
		rs = append(rs, Reading{Time: time.Now().Add(-d).Add(-10 * time.Millisecond)})
	}
	return rs
}

func TestRecorderContinuousIn(t *testing.T) {
	tests := []struct {
		name     string
		readings []Reading
		last     time.Duration
		want     int
	}{
		{
			name:     "gap in the middle",
			readings: readingsAt(31*time.Second, 20*time.Second, 10*time.Second),
			last:     40 * time.Second,
			want:     2,
		},
		{
			name:     "window cuts older readings",
			readings: readingsAt(70*time.Second, 60*time.Second, 40*time.Second, 30*time.Second, 20*time.Second, 10*time.Second),
			last:     50 * time.Second,
			want:     4,
		},
		{
			name:     "newest reading is stale",
			readings: readingsAt(40*time.Second, 30*time.Second, 20*time.Second, 15*time.Second),
			last:     50 * time.Second,
			want:     0,
		},
		{
			name: "empty",
			last: time.Minute,
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder(10)
			for _, rd := range tt.readings {
				r.Add(rd)
			}
			if got := r.ContinuousIn(tt.last, 10*time.Second); got != tt.want {
				t.Errorf("ContinuousIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecorderDropsOldest(t *testing.T) {
	r := NewRecorder(2)
	for i := 1; i <= 3; i++ {
		r.Add(Reading{Time: time.Now(), Current: float64(i)})
	}

	got := r.Readings()
	if len(got) != 2 || got[0].Current != 2 || got[1].Current != 3 {
		t.Errorf("Readings() = %+v, want currents [2 3]", got)
	}

	got[0].Current = 42
	if r.Readings()[0].Current != 2 {
		t.Errorf("Readings() returned shared memory")
	}

	if n := len(r.Since(time.Minute)); n != 2 {
		t.Errorf("Since(1m) returned %d readings, want 2", n)
	}

	r.Clear()
	if _, ok := r.Latest(); ok {
		t.Errorf("Latest() after Clear should report no reading")
	}
}
