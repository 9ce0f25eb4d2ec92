package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/analysis"
	"github.com/charlie0129/pvsweep/pkg/config"
	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/monitor"
	"github.com/charlie0129/pvsweep/pkg/sweep"
	"github.com/charlie0129/pvsweep/pkg/version"
)

var (
	errNoRunningSweep    = errors.New("no running sweep")
	errNoRun             = errors.New("no such run")
	errMonitorNotRunning = errors.New("monitor is not running")
)

// abortWithError replies with err as a JSON string and the status it maps to.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	c.IndentedJSON(status, err.Error())
	_ = c.AbortWithError(status, err)
}

func statusFor(err error) int {
	switch {
	case sweep.IsConfigurationError(err), errors.Is(err, monitor.ErrZeroReference), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, sweep.ErrNoSweep), errors.Is(err, errNoRunningSweep), errors.Is(err, errNoRun), errors.Is(err, errMonitorNotRunning):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrAlreadyRunning):
		return http.StatusConflict
	case analysis.IsAnalysisError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// bindOptionalJSON binds the body into v unless the body is empty.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("%v", err)
	}
	return nil
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func saveConfig(c *gin.Context) bool {
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, err)
		return false
	}
	return true
}

func bindPositive(c *gin.Context, name string) (float64, bool) {
	var v float64
	if err := c.ShouldBindJSON(&v); err != nil {
		abortWithError(c, badRequest("%v", err))
		return 0, false
	}
	if v <= 0 || math.IsInf(v, 0) {
		abortWithError(c, badRequest("%s must be positive, got %g", name, v))
		return 0, false
	}
	return v, true
}

func setIrradiance(c *gin.Context) {
	v, ok := bindPositive(c, "irradiance")
	if !ok {
		return
	}

	conf.SetIrradiance(v)
	if !saveConfig(c) {
		return
	}

	logrus.Infof("set irradiance to %g W/m^2", v)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("irradiance set to %g W/m^2, applies to sweeps started from now on", v))
}

func setArea(c *gin.Context) {
	v, ok := bindPositive(c, "area")
	if !ok {
		return
	}

	conf.SetArea(v)
	if !saveConfig(c) {
		return
	}

	logrus.Infof("set device area to %g m^2", v)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("area set to %g m^2, applies to sweeps started from now on", v))
}

// sweepRequest overrides the configured range. Omitted fields keep their
// configured values.
type sweepRequest struct {
	Start     *float64 `json:"start,omitempty"`
	Stop      *float64 `json:"stop,omitempty"`
	Step      *float64 `json:"step,omitempty"`
	Direction *string  `json:"direction,omitempty"`
	// Save makes the resulting range the new default.
	Save bool `json:"save,omitempty"`
}

func (r sweepRequest) apply(base sweep.VoltageRange) (sweep.VoltageRange, error) {
	if r.Start != nil {
		base.Start = *r.Start
	}
	if r.Stop != nil {
		base.Stop = *r.Stop
	}
	if r.Step != nil {
		base.Step = *r.Step
	}
	if r.Direction != nil {
		d, err := sweep.ParseDirection(*r.Direction)
		if err != nil {
			return base, err
		}
		base.Direction = d
	}
	return base, base.Validate()
}

func startSweep(c *gin.Context) {
	var req sweepRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	r, err := req.apply(conf.SweepRange())
	if err != nil {
		abortWithError(c, err)
		return
	}

	m, err := startMeasurement(r, triggerAPI)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if req.Save {
		conf.SetSweepRange(r)
		if !saveConfig(c) {
			return
		}
	}

	c.IndentedJSON(http.StatusCreated, m.status())
}

func cancelSweep(c *gin.Context) {
	if !controller.Cancel() {
		abortWithError(c, errNoRunningSweep)
		return
	}

	logrus.Info("sweep cancellation requested")
	c.IndentedJSON(http.StatusOK, "cancellation requested")
}

// lookupMeasurement resolves the optional ?id= query, defaulting to the
// latest measurement.
func lookupMeasurement(c *gin.Context) (*measurement, bool) {
	var (
		m  *measurement
		ok bool
	)
	if s := c.Query("id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			abortWithError(c, badRequest("invalid id %q", s))
			return nil, false
		}
		m, ok = store.get(id)
	} else {
		m, ok = store.latest()
	}
	if !ok {
		abortWithError(c, sweep.ErrNoSweep)
		return nil, false
	}
	return m, true
}

func getSweep(c *gin.Context) {
	m, ok := lookupMeasurement(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, m.status())
}

func listSweeps(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, store.list())
}

func getRuns(c *gin.Context) {
	m, ok := lookupMeasurement(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, m.analyzedRuns())
}

func exportRun(c *gin.Context) {
	m, ok := lookupMeasurement(c)
	if !ok {
		return
	}

	pass := sweep.Pass(c.DefaultQuery("pass", string(sweep.PassForward)))
	if pass != sweep.PassForward && pass != sweep.PassReverse {
		abortWithError(c, badRequest("pass must be forward or reverse, got %q", pass))
		return
	}

	r, ok := m.run(pass)
	if !ok {
		abortWithError(c, fmt.Errorf("%w: sweep %d has no %s run", errNoRun, m.ID, pass))
		return
	}
	if r.err != nil {
		logrus.WithField("id", m.ID).Debugf("exporting %s run without parameters: %v", pass, r.err)
	}

	var buf bytes.Buffer
	if err := analysis.WriteText(&buf, r.Run, r.Parameters); err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

type monitorRequest struct {
	MFactor      *float64 `json:"mFactor,omitempty"`
	IscReference *float64 `json:"iscReference,omitempty"`
	IntervalMs   *int     `json:"intervalMs,omitempty"`
	// Save makes mFactor and iscReference the new defaults.
	Save bool `json:"save,omitempty"`
}

type monitorStatus struct {
	Running    bool              `json:"running"`
	Healthy    bool              `json:"healthy"`
	Channel    string            `json:"channel"`
	Options    *monitor.Options  `json:"options,omitempty"`
	ReadErrors int               `json:"readErrors"`
	Readings   []monitor.Reading `json:"readings"`
}

func startMonitor(c *gin.Context) {
	var req monitorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, err)
		return
	}

	opts := monitor.Options{
		MFactor:      conf.MFactor(),
		IscReference: conf.IscReference(),
		Interval:     conf.MonitorInterval(),
		OnReading:    publishReading,
	}
	if req.MFactor != nil {
		opts.MFactor = *req.MFactor
	}
	if req.IscReference != nil {
		opts.IscReference = *req.IscReference
	}
	if req.IntervalMs != nil {
		if *req.IntervalMs <= 0 {
			abortWithError(c, badRequest("intervalMs must be positive, got %d", *req.IntervalMs))
			return
		}
		opts.Interval = time.Duration(*req.IntervalMs) * time.Millisecond
	}

	if err := startMonitorWith(opts); err != nil {
		abortWithError(c, err)
		return
	}

	if req.Save {
		conf.SetMonitor(opts.MFactor, opts.IscReference)
		if !saveConfig(c) {
			return
		}
	}

	c.IndentedJSON(http.StatusCreated, "monitor started")
}

func startMonitorWith(opts monitor.Options) error {
	// Checked here as well so that a bad reference never reaches the instrument.
	if opts.IscReference == 0 {
		return monitor.ErrZeroReference
	}

	monMu.Lock()
	defer monMu.Unlock()

	if mon != nil && mon.Running() {
		return monitor.ErrAlreadyRunning
	}

	if err := monitorCh.Configure(conf.CurrentLimit(), autozeroMode()); err != nil {
		return err
	}

	m := monitor.New(monitorCh, opts)
	if err := m.Start(); err != nil {
		return err
	}
	mon = m
	return nil
}

func stopMonitor(c *gin.Context) {
	if !stopMonitorIfRunning() {
		abortWithError(c, errMonitorNotRunning)
		return
	}
	c.IndentedJSON(http.StatusOK, "monitor stopped")
}

func stopMonitorIfRunning() bool {
	monMu.Lock()
	defer monMu.Unlock()

	if mon == nil || !mon.Stop() {
		return false
	}
	if err := monitorCh.SetOutput(false); err != nil {
		logrus.Warnf("failed to disable monitor channel output: %v", err)
	}
	return true
}

func getMonitor(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "60"))
	if err != nil || n < 0 {
		abortWithError(c, badRequest("invalid n %q", c.Query("n")))
		return
	}

	monMu.Lock()
	m := mon
	monMu.Unlock()

	st := monitorStatus{Channel: monitorCh.Name(), Readings: []monitor.Reading{}}
	if m != nil {
		opts := m.Options()
		st.Running = m.Running()
		st.Healthy = st.Running && m.Healthy()
		st.Options = &opts
		st.ReadErrors = m.ReadErrors()
		readings := m.Readings()
		if len(readings) > n {
			readings = readings[len(readings)-n:]
		}
		st.Readings = readings
	}

	c.IndentedJSON(http.StatusOK, st)
}

func publishReading(rd monitor.Reading) {
	sseHub.Publish(events.MonitorReading, events.MonitorReadingEvent{
		Current: rd.Current,
		Scaled:  rd.Scaled,
		Ts:      rd.Time.Unix(),
	})
}

type scheduleStatus struct {
	Schedule string      `json:"schedule"`
	Running  bool        `json:"running"`
	NextRuns []time.Time `json:"nextRuns"`
}

func currentScheduleStatus() scheduleStatus {
	_, running := scheduler.Status()
	runs := scheduler.NextRuns(3)
	if runs == nil {
		runs = []time.Time{}
	}
	return scheduleStatus{
		Schedule: scheduler.Expr(),
		Running:  running,
		NextRuns: runs,
	}
}

func getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, currentScheduleStatus())
}

func setSchedule(c *gin.Context) {
	var expr string
	if err := c.ShouldBindJSON(&expr); err != nil {
		abortWithError(c, badRequest("%v", err))
		return
	}

	if err := schedule(expr); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, currentScheduleStatus())
}

func deleteSchedule(c *gin.Context) {
	if err := schedule(""); err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, currentScheduleStatus())
}

func postponeSchedule(c *gin.Context) {
	var s string
	if err := c.ShouldBindJSON(&s); err != nil {
		abortWithError(c, badRequest("%v", err))
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		abortWithError(c, badRequest("invalid duration %q", s))
		return
	}

	if err := postpone(d); err != nil {
		abortWithError(c, badRequest("%v", err))
		return
	}
	c.IndentedJSON(http.StatusOK, currentScheduleStatus())
}

func skipSchedule(c *gin.Context) {
	if err := skipNextSchedule(); err != nil {
		abortWithError(c, badRequest("%v", err))
		return
	}
	c.IndentedJSON(http.StatusOK, currentScheduleStatus())
}

// getEvents streams hub events as server-sent events until the client goes
// away or the hub is closed.
func getEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
