package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/analysis"
	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

const maxMeasurements = 16

type trigger string

const (
	triggerAPI      trigger = "api"
	triggerSchedule trigger = "schedule"
)

// analyzedRun is a run together with its parameters, or the reason they could
// not be derived.
type analyzedRun struct {
	sweep.Run
	Parameters    *analysis.Parameters `json:"parameters,omitempty"`
	AnalysisError string               `json:"analysisError,omitempty"`

	err error
}

// measurement is one sweep as seen by the daemon: its runs are analyzed with
// the irradiance and area in effect when it started.
type measurement struct {
	ID         int64
	Trigger    trigger
	Irradiance float64
	Area       float64
	StartedAt  time.Time

	s *sweep.Sweep

	mu   sync.Mutex
	runs []analyzedRun
	done chan struct{}
}

type measurementStatus struct {
	ID         int64              `json:"id"`
	Trigger    trigger            `json:"trigger"`
	Range      sweep.VoltageRange `json:"range"`
	State      sweep.State        `json:"state"`
	Error      string             `json:"error,omitempty"`
	Runs       int                `json:"runs"`
	Irradiance float64            `json:"irradiance"`
	Area       float64            `json:"area"`
	StartedAt  time.Time          `json:"startedAt"`
}

func newMeasurement(s *sweep.Sweep, t trigger, irradiance, area float64) *measurement {
	return &measurement{
		ID:         s.ID,
		Trigger:    t,
		Irradiance: irradiance,
		Area:       area,
		StartedAt:  time.Now(),
		s:          s,
		done:       make(chan struct{}),
	}
}

// consume analyzes every run as the sweep hands it over. It returns when the
// sweep's run channel is closed.
func (m *measurement) consume() {
	defer close(m.done)

	for run := range m.s.Runs() {
		ar := analyzedRun{Run: run}
		p, err := analysis.Analyze(run, m.Irradiance, m.Area)
		if err != nil {
			ar.err = err
			ar.AnalysisError = err.Error()
			logrus.WithFields(logrus.Fields{
				"id":   m.ID,
				"pass": run.Pass,
			}).Warnf("run could not be analyzed: %v", err)
		} else {
			ar.Parameters = p
			logrus.WithFields(p.LogrusFields()).WithFields(logrus.Fields{
				"id":   m.ID,
				"pass": run.Pass,
			}).Info("run analyzed")
		}

		m.mu.Lock()
		m.runs = append(m.runs, ar)
		m.mu.Unlock()

		ev := events.SweepPassEvent{
			ID:            m.ID,
			Pass:          string(run.Pass),
			Points:        len(run.Points),
			Partial:       run.Partial,
			AnalysisError: ar.AnalysisError,
			Ts:            time.Now().Unix(),
		}
		if p != nil {
			ev.Voc, ev.Isc, ev.FillFactor, ev.PCE = p.Voc, p.Isc, p.FillFactor, p.PCE
		}
		sseHub.Publish(events.SweepPass, ev)
	}
}

func (m *measurement) status() measurementStatus {
	res := m.s.Snapshot()
	st := measurementStatus{
		ID:         m.ID,
		Trigger:    m.Trigger,
		Range:      m.s.Range,
		State:      res.State,
		Runs:       len(res.Runs),
		Irradiance: m.Irradiance,
		Area:       m.Area,
		StartedAt:  m.StartedAt,
	}
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	return st
}

// analyzedRuns returns the runs analyzed so far.
func (m *measurement) analyzedRuns() []analyzedRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]analyzedRun(nil), m.runs...)
}

func (m *measurement) run(p sweep.Pass) (analyzedRun, bool) {
	for _, r := range m.analyzedRuns() {
		if r.Pass == p {
			return r, true
		}
	}
	return analyzedRun{}, false
}

// measurementStore keeps the most recent measurements.
type measurementStore struct {
	mu    sync.Mutex
	limit int
	items []*measurement

	// consumers tracks the analysis goroutines, evicted measurements
	// included.
	consumers sync.WaitGroup
}

func newMeasurementStore(limit int) *measurementStore {
	return &measurementStore{limit: limit}
}

func (s *measurementStore) add(m *measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, m)
	sort.Slice(s.items, func(i, j int) bool { return s.items[i].ID < s.items[j].ID })
	if len(s.items) > s.limit {
		s.items = s.items[len(s.items)-s.limit:]
	}
}

func (s *measurementStore) latest() (*measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return nil, false
	}
	return s.items[len(s.items)-1], true
}

func (s *measurementStore) get(id int64) (*measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.items {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

func (s *measurementStore) list() []measurementStatus {
	s.mu.Lock()
	items := append([]*measurement(nil), s.items...)
	s.mu.Unlock()

	ret := make([]measurementStatus, 0, len(items))
	for _, m := range items {
		ret = append(ret, m.status())
	}
	return ret
}
