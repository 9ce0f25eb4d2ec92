package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/sweep"
	"github.com/charlie0129/pvsweep/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Resource:       ptr.To("sim://"),
		SweepChannel:   ptr.To("a"),
		MonitorChannel: ptr.To("b"),
		CurrentLimit:   ptr.To(0.105),
		Autozero:       ptr.To("once"),
		SettleDelayMs:  ptr.To(500),
		PassDelayMs:    ptr.To(500),
		Irradiance:     ptr.To(1000.0),
		Area:           ptr.To(0.00000484),
		SweepStart:     ptr.To(-1.0),
		SweepStop:      ptr.To(1.0),
		SweepStep:      ptr.To(0.05),
		SweepDirection: ptr.To(string(sweep.Forward)),
		MFactor:        ptr.To(1.0),
		// There is no sensible reference current for an unknown device. The
		// monitor refuses to start until one is configured.
		IscReference:       ptr.To(0.0),
		MonitorIntervalMs:  ptr.To(1000),
		Schedule:           ptr.To(""),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Resource          *string  `json:"resource,omitempty"`
	SweepChannel      *string  `json:"sweepChannel,omitempty"`
	MonitorChannel    *string  `json:"monitorChannel,omitempty"`
	CurrentLimit      *float64 `json:"currentLimit,omitempty"`
	Autozero          *string  `json:"autozero,omitempty"`
	SettleDelayMs     *int     `json:"settleDelayMs,omitempty"`
	PassDelayMs       *int     `json:"passDelayMs,omitempty"`
	Irradiance        *float64 `json:"irradiance,omitempty"`
	Area              *float64 `json:"area,omitempty"`
	SweepStart        *float64 `json:"sweepStart,omitempty"`
	SweepStop         *float64 `json:"sweepStop,omitempty"`
	SweepStep         *float64 `json:"sweepStep,omitempty"`
	SweepDirection    *string  `json:"sweepDirection,omitempty"`
	MFactor           *float64 `json:"mFactor,omitempty"`
	IscReference      *float64 `json:"iscReference,omitempty"`
	MonitorIntervalMs *int     `json:"monitorIntervalMs,omitempty"`
	Schedule          *string  `json:"schedule,omitempty"`

	AllowNonRootAccess *bool `json:"allowNonRootAccess,omitempty"`
}

// NewRawFileConfigFromConfig returns c with every field filled in.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	r := c.SweepRange()
	rawConfig := &RawFileConfig{
		Resource:           ptr.To(c.Resource()),
		SweepChannel:       ptr.To(c.SweepChannel()),
		MonitorChannel:     ptr.To(c.MonitorChannel()),
		CurrentLimit:       ptr.To(c.CurrentLimit()),
		Autozero:           ptr.To(c.Autozero()),
		SettleDelayMs:      ptr.To(int(c.SettleDelay().Milliseconds())),
		PassDelayMs:        ptr.To(int(c.PassDelay().Milliseconds())),
		Irradiance:         ptr.To(c.Irradiance()),
		Area:               ptr.To(c.Area()),
		SweepStart:         ptr.To(r.Start),
		SweepStop:          ptr.To(r.Stop),
		SweepStep:          ptr.To(r.Step),
		SweepDirection:     ptr.To(string(r.Direction)),
		MFactor:            ptr.To(c.MFactor()),
		IscReference:       ptr.To(c.IscReference()),
		MonitorIntervalMs:  ptr.To(int(c.MonitorInterval().Milliseconds())),
		Schedule:           ptr.To(c.Schedule()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// get returns *field, or *def when the field is unset.
func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func (f *File) Resource() string {
	return get(f, func(c *RawFileConfig) *string { return c.Resource })
}

func (f *File) SweepChannel() string {
	return get(f, func(c *RawFileConfig) *string { return c.SweepChannel })
}

func (f *File) MonitorChannel() string {
	return get(f, func(c *RawFileConfig) *string { return c.MonitorChannel })
}

func (f *File) CurrentLimit() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.CurrentLimit })
}

func (f *File) Autozero() string {
	return get(f, func(c *RawFileConfig) *string { return c.Autozero })
}

func (f *File) SettleDelay() time.Duration {
	ms := get(f, func(c *RawFileConfig) *int { return c.SettleDelayMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) PassDelay() time.Duration {
	ms := get(f, func(c *RawFileConfig) *int { return c.PassDelayMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) Irradiance() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.Irradiance })
}

func (f *File) Area() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.Area })
}

// SweepRange returns the default sweep range. An unrecognized direction is
// passed through as is, so that validation reports it when a sweep starts.
func (f *File) SweepRange() sweep.VoltageRange {
	dir := get(f, func(c *RawFileConfig) *string { return c.SweepDirection })
	d, err := sweep.ParseDirection(dir)
	if err != nil {
		d = sweep.Direction(dir)
	}

	return sweep.VoltageRange{
		Start:     get(f, func(c *RawFileConfig) *float64 { return c.SweepStart }),
		Stop:      get(f, func(c *RawFileConfig) *float64 { return c.SweepStop }),
		Step:      get(f, func(c *RawFileConfig) *float64 { return c.SweepStep }),
		Direction: d,
	}
}

func (f *File) MFactor() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.MFactor })
}

func (f *File) IscReference() float64 {
	return get(f, func(c *RawFileConfig) *float64 { return c.IscReference })
}

func (f *File) MonitorInterval() time.Duration {
	ms := get(f, func(c *RawFileConfig) *int { return c.MonitorIntervalMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) Schedule() string {
	return get(f, func(c *RawFileConfig) *string { return c.Schedule })
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetIrradiance(v float64) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Irradiance = &v
}

func (f *File) SetArea(v float64) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Area = &v
}

func (f *File) SetSweepRange(r sweep.VoltageRange) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SweepStart = ptr.To(r.Start)
	f.c.SweepStop = ptr.To(r.Stop)
	f.c.SweepStep = ptr.To(r.Step)
	f.c.SweepDirection = ptr.To(string(r.Direction))
}

func (f *File) SetMonitor(mFactor, iscReference float64) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MFactor = &mFactor
	f.c.IscReference = &iscReference
}

func (f *File) SetSchedule(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Schedule = &expr
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"resource":        f.Resource(),
		"sweepChannel":    f.SweepChannel(),
		"monitorChannel":  f.MonitorChannel(),
		"currentLimit":    f.CurrentLimit(),
		"autozero":        f.Autozero(),
		"settleDelay":     f.SettleDelay(),
		"passDelay":       f.PassDelay(),
		"irradiance":      f.Irradiance(),
		"area":            f.Area(),
		"sweepRange":      f.SweepRange(),
		"mFactor":         f.MFactor(),
		"iscReference":    f.IscReference(),
		"monitorInterval": f.MonitorInterval(),
		"schedule":        f.Schedule(),
		"allowNonRoot":    f.AllowNonRootAccess(),
	}
}
