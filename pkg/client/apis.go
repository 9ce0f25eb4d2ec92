package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/pvsweep/pkg/analysis"
	"github.com/charlie0129/pvsweep/pkg/config"
	"github.com/charlie0129/pvsweep/pkg/monitor"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

// SweepRequest overrides the configured sweep range. Nil fields keep the
// configured values.
type SweepRequest struct {
	Start     *float64 `json:"start,omitempty"`
	Stop      *float64 `json:"stop,omitempty"`
	Step      *float64 `json:"step,omitempty"`
	Direction *string  `json:"direction,omitempty"`
	Save      bool     `json:"save,omitempty"`
}

type SweepStatus struct {
	ID         int64              `json:"id"`
	Trigger    string             `json:"trigger"`
	Range      sweep.VoltageRange `json:"range"`
	State      sweep.State        `json:"state"`
	Error      string             `json:"error,omitempty"`
	Runs       int                `json:"runs"`
	Irradiance float64            `json:"irradiance"`
	Area       float64            `json:"area"`
	StartedAt  time.Time          `json:"startedAt"`
}

// AnalyzedRun is a run with its parameters, or the reason they are missing.
type AnalyzedRun struct {
	sweep.Run
	Parameters    *analysis.Parameters `json:"parameters,omitempty"`
	AnalysisError string               `json:"analysisError,omitempty"`
}

type MonitorRequest struct {
	MFactor      *float64 `json:"mFactor,omitempty"`
	IscReference *float64 `json:"iscReference,omitempty"`
	IntervalMs   *int     `json:"intervalMs,omitempty"`
	Save         bool     `json:"save,omitempty"`
}

type MonitorStatus struct {
	Running    bool              `json:"running"`
	Healthy    bool              `json:"healthy"`
	Channel    string            `json:"channel"`
	Options    *monitor.Options  `json:"options,omitempty"`
	ReadErrors int               `json:"readErrors"`
	Readings   []monitor.Reading `json:"readings"`
}

type ScheduleStatus struct {
	Schedule string      `json:"schedule"`
	Running  bool        `json:"running"`
	NextRuns []time.Time `json:"nextRuns"`
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) SetIrradiance(v float64) (string, error) {
	return c.Put("/irradiance", strconv.FormatFloat(v, 'g', -1, 64))
}

func (c *Client) SetArea(v float64) (string, error) {
	return c.Put("/area", strconv.FormatFloat(v, 'g', -1, 64))
}

func (c *Client) StartSweep(req SweepRequest) (*SweepStatus, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/sweep", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start sweep")
	}
	return unmarshal[SweepStatus](ret, "sweep status")
}

func (c *Client) CancelSweep() (string, error) {
	return c.Post("/sweep/cancel", "")
}

// GetSweep returns the sweep with the given id, or the latest one if id is 0.
func (c *Client) GetSweep(id int64) (*SweepStatus, error) {
	ret, err := c.Get("/sweep" + idQuery(id, nil))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get sweep")
	}
	return unmarshal[SweepStatus](ret, "sweep status")
}

func (c *Client) ListSweeps() ([]SweepStatus, error) {
	ret, err := c.Get("/sweeps")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list sweeps")
	}
	list, err := unmarshal[[]SweepStatus](ret, "sweeps")
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// GetRuns returns the analyzed runs of the sweep with the given id, or of the
// latest one if id is 0.
func (c *Client) GetRuns(id int64) ([]AnalyzedRun, error) {
	ret, err := c.Get("/sweep/runs" + idQuery(id, nil))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get runs")
	}
	runs, err := unmarshal[[]AnalyzedRun](ret, "runs")
	if err != nil {
		return nil, err
	}
	return *runs, nil
}

// ExportRun returns the text export of one pass of a sweep.
func (c *Client) ExportRun(id int64, pass sweep.Pass) (string, error) {
	q := url.Values{}
	if pass != "" {
		q.Set("pass", string(pass))
	}
	ret, err := c.Get("/sweep/export" + idQuery(id, q))
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to export %s run", pass)
	}
	return ret, nil
}

func (c *Client) StartMonitor(req MonitorRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return c.Post("/monitor/start", string(payload))
}

func (c *Client) StopMonitor() (string, error) {
	return c.Post("/monitor/stop", "")
}

// GetMonitor returns the monitor status with up to n of the latest readings.
func (c *Client) GetMonitor(n int) (*MonitorStatus, error) {
	ret, err := c.Get("/monitor?n=" + strconv.Itoa(n))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get monitor status")
	}
	return unmarshal[MonitorStatus](ret, "monitor status")
}

func (c *Client) GetSchedule() (*ScheduleStatus, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return unmarshal[ScheduleStatus](ret, "schedule")
}

func (c *Client) Schedule(cronExpr string) (*ScheduleStatus, error) {
	payload, err := json.Marshal(cronExpr)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/schedule", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return unmarshal[ScheduleStatus](ret, "schedule")
}

func (c *Client) DisableSchedule() (*ScheduleStatus, error) {
	ret, err := c.Delete("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to disable schedule")
	}
	return unmarshal[ScheduleStatus](ret, "schedule")
}

func (c *Client) PostponeSchedule(d time.Duration) (*ScheduleStatus, error) {
	payload, err := json.Marshal(d.String())
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/schedule/postpone", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to postpone schedule")
	}
	return unmarshal[ScheduleStatus](ret, "schedule")
}

func (c *Client) SkipSchedule() (*ScheduleStatus, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip schedule")
	}
	return unmarshal[ScheduleStatus](ret, "schedule")
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}

func unmarshal[T any](ret, what string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func idQuery(id int64, q url.Values) string {
	if id != 0 {
		if q == nil {
			q = url.Values{}
		}
		q.Set("id", strconv.FormatInt(id, 10))
	}
	if len(q) == 0 {
		return ""
	}
	return fmt.Sprintf("?%s", q.Encode())
}
