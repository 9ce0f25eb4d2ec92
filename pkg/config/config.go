package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/sweep"
)

type Config interface {
	// Resource is the instrument resource URL, e.g. serial:///dev/ttyUSB0.
	Resource() string
	SweepChannel() string
	MonitorChannel() string
	CurrentLimit() float64
	Autozero() string
	SettleDelay() time.Duration
	PassDelay() time.Duration
	Irradiance() float64
	Area() float64
	SweepRange() sweep.VoltageRange
	MFactor() float64
	IscReference() float64
	MonitorInterval() time.Duration
	// Schedule is a cron expression for repeated sweeps. Empty means none.
	Schedule() string
	AllowNonRootAccess() bool

	SetIrradiance(float64)
	SetArea(float64)
	SetSweepRange(sweep.VoltageRange)
	SetMonitor(mFactor, iscReference float64)
	SetSchedule(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
