package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/pvsweep/pkg/analysis"
	"github.com/charlie0129/pvsweep/pkg/config"
	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/monitor"
	"github.com/charlie0129/pvsweep/pkg/sweep"
	"github.com/charlie0129/pvsweep/pkg/utils/ptr"
)

func newTestDaemon(t *testing.T) *gin.Engine {
	t.Helper()

	return newTestDaemonWithConfig(t, &config.RawFileConfig{
		SettleDelayMs: ptr.To(0),
		PassDelayMs:   ptr.To(0),
	})
}

func newTestDaemonWithConfig(t *testing.T, raw *config.RawFileConfig) *gin.Engine {
	t.Helper()

	c := config.NewFileFromConfig(raw, filepath.Join(t.TempDir(), "pvsweep.json"))

	cn, err := connect(c)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	router, err := setup(c, cn)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(shutdown)
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

// waitLatest waits until the latest sweep is terminal and all its runs have
// been analyzed.
func waitLatest(t *testing.T) *measurement {
	t.Helper()
	m, ok := store.latest()
	if !ok {
		t.Fatalf("no measurement")
	}
	timeout := time.After(5 * time.Second)
	for _, done := range []<-chan struct{}{m.s.Done(), m.done} {
		select {
		case <-done:
		case <-timeout:
			t.Fatalf("measurement %d did not finish", m.ID)
		}
	}
	return m
}

func TestSweepLifecycle(t *testing.T) {
	router := newTestDaemon(t)

	if w := do(router, "GET", "/sweep", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET /sweep before any sweep = %d, want 404", w.Code)
	}

	w := do(router, "POST", "/sweep", `{"start":0,"stop":0.5,"step":0.1,"direction":"both"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /sweep = %d: %s", w.Code, w.Body.String())
	}
	started := decode[measurementStatus](t, w)
	if started.ID != 1 || started.Trigger != triggerAPI || started.Range.Direction != sweep.Both {
		t.Errorf("unexpected status %+v", started)
	}

	waitLatest(t)

	st := decode[measurementStatus](t, do(router, "GET", "/sweep", ""))
	if st.State != sweep.StateCompleted || st.Runs != 2 {
		t.Errorf("status = %+v, want Completed with 2 runs", st)
	}
	if st.Irradiance != 1000 || st.Area != 0.00000484 {
		t.Errorf("analysis inputs = %v, %v", st.Irradiance, st.Area)
	}

	runs := decode[[]analyzedRun](t, do(router, "GET", "/sweep/runs", ""))
	if len(runs) != 2 || runs[0].Pass != sweep.PassForward || runs[1].Pass != sweep.PassReverse {
		t.Fatalf("unexpected runs %+v", runs)
	}
	for _, r := range runs {
		if r.Parameters == nil {
			t.Errorf("%s run was not analyzed: %s", r.Pass, r.AnalysisError)
			continue
		}
		if r.Parameters.Isc >= 0 || r.Parameters.FillFactor <= 0 {
			t.Errorf("%s run parameters look wrong: %+v", r.Pass, r.Parameters)
		}
	}

	w = do(router, "GET", "/sweep/export?pass=reverse", "")
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "Voltage\tCurrent\n") {
		t.Errorf("export = %d: %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "\nPCE: ") {
		t.Errorf("export misses PCE: %q", w.Body.String())
	}

	if w := do(router, "GET", "/sweep/runs?id=1", ""); w.Code != http.StatusOK {
		t.Errorf("GET /sweep/runs?id=1 = %d", w.Code)
	}
	if w := do(router, "GET", "/sweep/runs?id=7", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /sweep/runs?id=7 = %d, want 404", w.Code)
	}
	if list := decode[[]measurementStatus](t, do(router, "GET", "/sweeps", "")); len(list) != 1 {
		t.Errorf("GET /sweeps returned %d sweeps", len(list))
	}

	if w := do(router, "POST", "/sweep/cancel", ""); w.Code != http.StatusNotFound {
		t.Errorf("cancel without running sweep = %d, want 404", w.Code)
	}
}

func TestSweepExportErrors(t *testing.T) {
	router := newTestDaemon(t)

	if w := do(router, "POST", "/sweep", `{"start":0,"stop":0.3,"step":0.1}`); w.Code != http.StatusCreated {
		t.Fatalf("POST /sweep = %d: %s", w.Code, w.Body.String())
	}
	waitLatest(t)

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?pass=forward", http.StatusOK},
		{"?pass=reverse", http.StatusNotFound},
		{"?pass=sideways", http.StatusBadRequest},
		{"?id=abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(router, "GET", "/sweep/export"+tt.query, ""); w.Code != tt.want {
			t.Errorf("GET /sweep/export%s = %d, want %d: %s", tt.query, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestSweepExportWithoutParameters(t *testing.T) {
	router := newTestDaemon(t)

	// The simulated cell reads its smallest current at 0 V, so Voc*Isc is zero.
	if w := do(router, "POST", "/sweep", `{"start":-0.1,"stop":0.05,"step":0.1}`); w.Code != http.StatusCreated {
		t.Fatalf("POST /sweep = %d: %s", w.Code, w.Body.String())
	}
	waitLatest(t)

	runs := decode[[]analyzedRun](t, do(router, "GET", "/sweep/runs", ""))
	if len(runs) != 1 || runs[0].Parameters != nil || runs[0].AnalysisError == "" {
		t.Fatalf("runs = %+v, want one run without parameters", runs)
	}

	w := do(router, "GET", "/sweep/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", w.Code, w.Body.String())
	}
	want := "Voltage\tCurrent\n" +
		"-1.000000000e-01\t-1.280000000e-03\n" +
		"0.000000000e+00\t-1.270000000e-03\n" +
		"Voc: 0.000000000e+00\n" +
		"Isc: -1.270000000e-03\n" +
		"FF: undefined\n"
	if !strings.HasPrefix(w.Body.String(), want) {
		t.Errorf("export =\n%s\nwant prefix\n%s", w.Body.String(), want)
	}
	if !strings.HasSuffix(w.Body.String(), "PCE: undefined\n") {
		t.Errorf("export misses undefined PCE: %q", w.Body.String())
	}
}

func TestStartSweepRejectsBadRange(t *testing.T) {
	router := newTestDaemon(t)

	for _, body := range []string{
		`{"step":0}`,
		`{"start":1,"stop":1}`,
		`{"start":0,"stop":1,"step":-0.1}`,
		`{"direction":"up"}`,
		`{"start":"x"}`,
	} {
		if w := do(router, "POST", "/sweep", body); w.Code != http.StatusBadRequest {
			t.Errorf("POST /sweep %s = %d, want 400", body, w.Code)
		}
	}
	if _, ok := store.latest(); ok {
		t.Errorf("rejected sweeps must not be recorded")
	}
}

func TestStartSweepSavesRange(t *testing.T) {
	router := newTestDaemon(t)

	w := do(router, "POST", "/sweep", `{"start":0,"stop":0.2,"step":0.1,"direction":"reverse","save":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /sweep = %d: %s", w.Code, w.Body.String())
	}
	waitLatest(t)

	want := sweep.VoltageRange{Start: 0, Stop: 0.2, Step: 0.1, Direction: sweep.Reverse}
	if got := conf.SweepRange(); got != want {
		t.Errorf("saved range = %+v, want %+v", got, want)
	}
}

func TestSetIrradianceAndArea(t *testing.T) {
	router := newTestDaemon(t)

	if w := do(router, "PUT", "/irradiance", "800"); w.Code != http.StatusCreated {
		t.Fatalf("PUT /irradiance = %d: %s", w.Code, w.Body.String())
	}
	if conf.Irradiance() != 800 {
		t.Errorf("Irradiance() = %v, want 800", conf.Irradiance())
	}
	if w := do(router, "PUT", "/area", "0.0001"); w.Code != http.StatusCreated {
		t.Fatalf("PUT /area = %d: %s", w.Code, w.Body.String())
	}

	for _, body := range []string{"0", "-1", "abc"} {
		if w := do(router, "PUT", "/irradiance", body); w.Code != http.StatusBadRequest {
			t.Errorf("PUT /irradiance %s = %d, want 400", body, w.Code)
		}
	}

	raw := decode[config.RawFileConfig](t, do(router, "GET", "/config", ""))
	if raw.Area == nil || *raw.Area != 0.0001 {
		t.Errorf("GET /config area = %v", raw.Area)
	}
}

func TestMonitorEndpoints(t *testing.T) {
	router := newTestDaemon(t)

	// No reference current configured yet.
	if w := do(router, "POST", "/monitor/start", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("start without reference = %d, want 400", w.Code)
	}

	w := do(router, "POST", "/monitor/start", `{"mFactor":2,"iscReference":-0.00127,"intervalMs":5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /monitor/start = %d: %s", w.Code, w.Body.String())
	}
	if w := do(router, "POST", "/monitor/start", `{"iscReference":1}`); w.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	var st monitorStatus
	for time.Now().Before(deadline) {
		st = decode[monitorStatus](t, do(router, "GET", "/monitor?n=5", ""))
		if len(st.Readings) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !st.Running || st.Channel != "smub" || len(st.Readings) == 0 {
		t.Fatalf("monitor status = %+v", st)
	}
	// At 0 V the simulated cell delivers its short-circuit current.
	if got := st.Readings[0].Scaled; got != 2 {
		t.Errorf("Scaled = %v, want 2", got)
	}

	if w := do(router, "POST", "/monitor/stop", ""); w.Code != http.StatusOK {
		t.Errorf("POST /monitor/stop = %d", w.Code)
	}
	if w := do(router, "POST", "/monitor/stop", ""); w.Code != http.StatusNotFound {
		t.Errorf("second stop = %d, want 404", w.Code)
	}
	if w := do(router, "GET", "/monitor?n=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("GET /monitor?n=-1 = %d, want 400", w.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	router := newTestDaemon(t)

	if w := do(router, "PUT", "/schedule", `"not a cron"`); w.Code != http.StatusBadRequest {
		t.Errorf("PUT bad schedule = %d, want 400", w.Code)
	}
	if w := do(router, "POST", "/schedule/skip", ""); w.Code != http.StatusBadRequest {
		t.Errorf("skip without schedule = %d, want 400", w.Code)
	}

	w := do(router, "PUT", "/schedule", `"@every 1h"`)
	if w.Code != http.StatusCreated {
		t.Fatalf("PUT /schedule = %d: %s", w.Code, w.Body.String())
	}
	st := decode[scheduleStatus](t, w)
	if st.Schedule != "@every 1h" || !st.Running || len(st.NextRuns) != 3 {
		t.Errorf("schedule status = %+v", st)
	}
	if conf.Schedule() != "@every 1h" {
		t.Errorf("schedule not saved to config")
	}

	skipped := decode[scheduleStatus](t, do(router, "POST", "/schedule/skip", ""))
	if !skipped.NextRuns[0].After(st.NextRuns[0]) {
		t.Errorf("skip did not move the next run: %v -> %v", st.NextRuns[0], skipped.NextRuns[0])
	}
	if w := do(router, "POST", "/schedule/postpone", `"10m"`); w.Code != http.StatusOK {
		t.Errorf("postpone = %d: %s", w.Code, w.Body.String())
	}
	if w := do(router, "POST", "/schedule/postpone", `"soon"`); w.Code != http.StatusBadRequest {
		t.Errorf("postpone with bad duration = %d, want 400", w.Code)
	}

	w = do(router, "DELETE", "/schedule", "")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /schedule = %d", w.Code)
	}
	if st := decode[scheduleStatus](t, w); st.Schedule != "" || st.Running || len(st.NextRuns) != 0 {
		t.Errorf("schedule status after delete = %+v", st)
	}
}

func TestScheduledSweepPreCheck(t *testing.T) {
	newTestDaemon(t)

	if err := scheduledPreCheck(); err != nil {
		t.Errorf("precheck with no sweep = %v", err)
	}
	if err := scheduledSweep(); err != nil {
		t.Fatalf("scheduledSweep failed: %v", err)
	}
	m := waitLatest(t)
	if m.Trigger != triggerSchedule {
		t.Errorf("Trigger = %q, want %q", m.Trigger, triggerSchedule)
	}
}

func TestScheduledSweepNeverPreempts(t *testing.T) {
	router := newTestDaemonWithConfig(t, &config.RawFileConfig{
		SettleDelayMs: ptr.To(50),
		PassDelayMs:   ptr.To(0),
	})

	if w := do(router, "POST", "/sweep", `{"start":0,"stop":1,"step":0.1}`); w.Code != http.StatusCreated {
		t.Fatalf("POST /sweep = %d: %s", w.Code, w.Body.String())
	}

	if err := scheduledSweep(); !errors.Is(err, sweep.ErrBusy) {
		t.Fatalf("scheduledSweep during an API sweep = %v, want ErrBusy", err)
	}
	if err := scheduledPreCheck(); !errors.Is(err, sweep.ErrBusy) {
		t.Errorf("precheck during an API sweep = %v, want ErrBusy", err)
	}

	st := decode[measurementStatus](t, do(router, "GET", "/sweep", ""))
	if st.ID != 1 || st.Trigger != triggerAPI || st.State.Terminal() {
		t.Errorf("API sweep was disturbed: %+v", st)
	}
	if sweeps := decode[[]measurementStatus](t, do(router, "GET", "/sweeps", "")); len(sweeps) != 1 {
		t.Errorf("got %d sweeps, want only the API one", len(sweeps))
	}

	if w := do(router, "POST", "/sweep/cancel", ""); w.Code != http.StatusOK {
		t.Fatalf("cancel = %d", w.Code)
	}
	if m := waitLatest(t); m.s.Snapshot().State != sweep.StateCancelled {
		t.Errorf("API sweep state = %s, want Cancelled", m.s.Snapshot().State)
	}
}

func TestSweepEvents(t *testing.T) {
	router := newTestDaemon(t)
	ch := sseHub.Subscribe()

	if w := do(router, "POST", "/sweep", `{"start":0,"stop":0.3,"step":0.1}`); w.Code != http.StatusCreated {
		t.Fatalf("POST /sweep = %d", w.Code)
	}

	var states []string
	passes := 0
	timeout := time.After(5 * time.Second)
	for len(states) == 0 || states[len(states)-1] != string(sweep.StateCompleted) || passes == 0 {
		select {
		case ev := <-ch:
			switch ev.Name {
			case events.SweepState:
				p, err := events.DecodeAs[events.SweepStateEvent](ev)
				if err != nil {
					t.Fatal(err)
				}
				states = append(states, p.State)
			case events.SweepPass:
				p, err := events.DecodeAs[events.SweepPassEvent](ev)
				if err != nil {
					t.Fatal(err)
				}
				if p.Pass != string(sweep.PassForward) || p.Points != 3 {
					t.Errorf("pass event = %+v", p)
				}
				passes++
			}
		case <-timeout:
			t.Fatalf("events so far: states=%v passes=%d", states, passes)
		}
	}

	want := []string{string(sweep.StateForwardPass), string(sweep.StateCompleted)}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestEventStream(t *testing.T) {
	router := newTestDaemon(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/events")
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sseHub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event stream did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}
	publishScheduleAction("skip", "hello")

	var resp *http.Response
	select {
	case resp = <-respCh:
	case err := <-errCh:
		t.Fatal(err)
	case <-time.After(2 * time.Second):
		t.Fatalf("no response from /events")
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() && sc.Text() != "" {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 || lines[0] != "event:"+events.ScheduleAction || !strings.HasPrefix(lines[1], "data:") {
		t.Fatalf("unexpected event lines %q", lines)
	}
	p, err := events.DecodeAs[events.ScheduleEvent](events.Event{Data: json.RawMessage(strings.TrimPrefix(lines[1], "data:"))})
	if err != nil || p.Message != "hello" {
		t.Errorf("payload = %+v, %v", p, err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&sweep.ConfigurationError{Field: "step", Reason: "must not be zero"}, http.StatusBadRequest},
		{monitor.ErrZeroReference, http.StatusBadRequest},
		{badRequest("x"), http.StatusBadRequest},
		{sweep.ErrNoSweep, http.StatusNotFound},
		{fmt.Errorf("%w: reverse", errNoRun), http.StatusNotFound},
		{monitor.ErrAlreadyRunning, http.StatusConflict},
		{&analysis.AnalysisError{Quantity: "fill factor", Err: analysis.ErrUndefinedFillFactor}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestVersion(t *testing.T) {
	router := newTestDaemon(t)
	if w := do(router, "GET", "/version", ""); w.Code != http.StatusOK || decode[string](t, w) == "" {
		t.Errorf("GET /version = %d: %s", w.Code, w.Body.String())
	}
}
