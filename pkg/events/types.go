package events

import "encoding/json"

// Event name constants
const (
	SweepState     = "sweep.state"
	SweepPass      = "sweep.pass"
	MonitorReading = "monitor.reading"
	ScheduleError    = "schedule.error"
	ScheduleUpcoming = "schedule.upcoming"
	ScheduleAction   = "schedule.action"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// SweepStateEvent is the payload for sweep.state.
type SweepStateEvent struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
	Ts    int64  `json:"ts"`
}

// SweepPassEvent is the payload for sweep.pass. Parameters are omitted when
// the run could not be analyzed; AnalysisError says why.
type SweepPassEvent struct {
	ID            int64   `json:"id"`
	Pass          string  `json:"pass"`
	Points        int     `json:"points"`
	Partial       bool    `json:"partial"`
	Voc           float64 `json:"voc,omitempty"`
	Isc           float64 `json:"isc,omitempty"`
	FillFactor    float64 `json:"fillFactor,omitempty"`
	PCE           float64 `json:"pce,omitempty"`
	AnalysisError string  `json:"analysisError,omitempty"`
	Ts            int64   `json:"ts"`
}

// MonitorReadingEvent is the payload for monitor.reading.
type MonitorReadingEvent struct {
	Current float64 `json:"current"`
	Scaled  float64 `json:"scaled"`
	Ts      int64   `json:"ts"`
}

// ScheduleEvent is the payload for the schedule.* events.
type ScheduleEvent struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
	RunAt   int64  `json:"runAt,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// If Data is empty, it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.SweepStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.State)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
