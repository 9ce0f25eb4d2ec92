package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

// serve starts h on a unix socket and returns a client for it. The socket
// lives in a short temp dir since unix socket paths are length-limited.
func serve(t *testing.T, h http.Handler) *Client {
	t.Helper()

	dir, err := os.MkdirTemp("", "pvs")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return NewClient(sock)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.GetVersion(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Errorf("GetVersion() error = %v, want ErrDaemonNotRunning", err)
	}
}

func TestSendStatusCodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `"v1.2.3"`)
	})
	mux.HandleFunc("/sweep", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `"no sweep started"`)
	})
	mux.HandleFunc("/irradiance", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPut || string(b) != "-1" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `"bad request: irradiance must be positive, got -1"`)
	})
	c := serve(t, mux)

	v, err := c.GetVersion()
	if err != nil || v != "v1.2.3" {
		t.Errorf("GetVersion() = %q, %v", v, err)
	}

	if _, err := c.GetSweep(0); !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "no sweep started") {
		t.Errorf("GetSweep() error = %v, want ErrNotFound", err)
	}

	_, err = c.SetIrradiance(-1)
	if err == nil || !strings.Contains(err.Error(), "got 400: bad request: irradiance must be positive") {
		t.Errorf("SetIrradiance() error = %v", err)
	}

	if _, err := c.Send("PATCH", "/version", ""); err == nil {
		t.Errorf("Send(PATCH) should fail")
	}
}

func TestSweepAPIs(t *testing.T) {
	var gotBody, gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/sweep", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":3,"trigger":"api","range":{"start":0,"stop":1,"step":0.1,"direction":"Both"},"state":"ForwardPass","runs":0}`)
	})
	mux.HandleFunc("/sweep/runs", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[{"pass":"forward","points":[{"voltage":0,"current":-0.001}],"partial":false,"analysisError":"analysis: fill factor: boom"}]`)
	})
	mux.HandleFunc("/sweep/export", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, "Voltage\tCurrent\n")
	})
	c := serve(t, mux)

	dir := "both"
	st, err := c.StartSweep(SweepRequest{Direction: &dir})
	if err != nil {
		t.Fatal(err)
	}
	if gotBody != `{"direction":"both"}` {
		t.Errorf("request body = %s", gotBody)
	}
	if st.ID != 3 || st.State != sweep.StateForwardPass || st.Range.Direction != sweep.Both {
		t.Errorf("StartSweep() = %+v", st)
	}

	runs, err := c.GetRuns(3)
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "id=3" {
		t.Errorf("query = %q, want id=3", gotQuery)
	}
	if len(runs) != 1 || runs[0].Pass != sweep.PassForward || runs[0].Parameters != nil || runs[0].AnalysisError == "" {
		t.Errorf("GetRuns() = %+v", runs)
	}

	if _, err := c.ExportRun(2, sweep.PassReverse); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "id=2&pass=reverse" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestSubscribeEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event:sweep.state\ndata:{\"id\":1,\"state\":\"Completed\"}\n\n")
		fmt.Fprint(w, "event:schedule.action\ndata:{\"action\":\"skip\"}\n\n")
	})
	c := serve(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []events.Event
	for ev := range c.SubscribeEvents(ctx) {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}

	st, err := events.DecodeAs[events.SweepStateEvent](got[0])
	if got[0].Name != events.SweepState || err != nil || st.ID != 1 || st.State != "Completed" {
		t.Errorf("first event = %s %+v %v", got[0].Name, st, err)
	}
	if got[1].Name != events.ScheduleAction {
		t.Errorf("second event = %s", got[1].Name)
	}
}

func TestReadEventsMultilineData(t *testing.T) {
	in := ": comment\n\nevent:x\ndata: a\ndata:b\n\n"
	ch := make(chan events.Event, 4)
	readEvents(context.Background(), strings.NewReader(in), ch)
	close(ch)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 1 || got[0].Name != "x" || string(got[0].Data) != "a\nb" {
		t.Errorf("got %+v", got)
	}
}
