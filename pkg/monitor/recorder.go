package monitor

import (
	"sync"
	"time"
)

// Recorder keeps the last N readings.
type Recorder struct {
	MaxRecordCount int
	readings       []Reading
	mu             *sync.Mutex
}

// NewRecorder returns a Recorder holding at most maxRecordCount readings.
func NewRecorder(maxRecordCount int) *Recorder {
	return &Recorder{
		MaxRecordCount: maxRecordCount,
		readings:       make([]Reading, 0),
		mu:             &sync.Mutex{},
	}
}

// Add appends r, dropping the oldest reading when full.
func (r *Recorder) Add(rd Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	rd.Time = rd.Time.Round(0)

	if r.MaxRecordCount > 0 && len(r.readings) >= r.MaxRecordCount {
		r.readings = r.readings[1:]
	}
	r.readings = append(r.readings, rd)
}

// Clear drops all readings.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.readings = make([]Reading, 0)
}

// Readings returns a copy of the recorded readings, oldest first.
func (r *Recorder) Readings() []Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Reading(nil), r.readings...)
}

// Latest returns the most recent reading.
func (r *Recorder) Latest() (Reading, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.readings) == 0 {
		return Reading{}, false
	}
	return r.readings[len(r.readings)-1], true
}

// Since returns the readings taken within the last duration, oldest first.
func (r *Recorder) Since(last time.Duration) []Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := len(r.readings)
	for i > 0 && time.Since(r.readings[i-1].Time) <= last {
		i--
	}
	return append([]Reading(nil), r.readings[i:]...)
}

// ContinuousIn returns the number of readings in the last duration that were
// taken back to back, i.e. with gaps shorter than interval+1s, counted from
// the newest one. It returns 0 if the newest reading is already stale.
func (r *Recorder) ContinuousIn(last, interval time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	gap := interval + time.Second
	n := len(r.readings)
	if n == 0 || time.Since(r.readings[n-1].Time) >= gap {
		return 0
	}

	count := 0
	for i := n - 1; i >= 0; i-- {
		t := r.readings[i].Time
		if time.Since(t) > last {
			break
		}

		after := t
		if i+1 < n {
			after = r.readings[i+1].Time
		}
		if after.Sub(t) >= gap {
			break
		}
		count++
	}

	return count
}
