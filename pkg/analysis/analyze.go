package analysis

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/sweep"
)

// Curve is the sampled IV curve of one run with its intercepts and maximum
// power point. It needs no irradiance or area.
type Curve struct {
	Voltage []float64 `json:"voltage"`
	Current []float64 `json:"current"`
	Power   []float64 `json:"power"`

	Voc        float64 `json:"voc"`
	Isc        float64 `json:"isc"`
	MaxPower   float64 `json:"maxPower"`
	MPPVoltage float64 `json:"mppVoltage"`
	MPPCurrent float64 `json:"mppCurrent"`
}

// NewCurve reads the intercepts and the maximum power point off run. Power is
// negative in the generating quadrant, so the maximum power point is the most
// negative V*I sample.
func NewCurve(run sweep.Run) (*Curve, error) {
	n := len(run.Points)
	if n == 0 {
		return nil, &AnalysisError{Quantity: "run", Err: ErrEmptyRun}
	}

	c := &Curve{
		Voltage: run.Voltages(),
		Current: run.Currents(),
		Power:   make([]float64, n),
	}
	for i := range c.Power {
		c.Power[i] = c.Voltage[i] * c.Current[i]
	}

	c.Isc = c.Current[argminAbs(c.Voltage)]
	c.Voc = c.Voltage[argminAbs(c.Current)]

	mpp := argmin(c.Power)
	c.MaxPower = math.Abs(c.Power[mpp])
	c.MPPVoltage = c.Voltage[mpp]
	c.MPPCurrent = c.Current[mpp]

	return c, nil
}

// Parameters is a snapshot of the figures of merit of one run. Every call to
// Analyze returns a fresh value; its slices are not shared with the run.
type Parameters struct {
	Curve

	FillFactor float64 `json:"fillFactor"`
	// PCE is in percent.
	PCE float64 `json:"pce"`
}

// Analyze derives the parameters of run under irradiance (W/m²) over a device
// of area (m²). A zero Voc*Isc or irradiance*area is reported as an
// AnalysisError rather than an infinite ratio.
func Analyze(run sweep.Run, irradiance, area float64) (*Parameters, error) {
	c, err := NewCurve(run)
	if err != nil {
		return nil, err
	}
	p := &Parameters{Curve: *c}

	vi := p.Voc * p.Isc
	if vi == 0 {
		return nil, &AnalysisError{Quantity: "fill factor", Err: ErrUndefinedFillFactor}
	}
	p.FillFactor = math.Abs(p.MaxPower) / math.Abs(vi)

	incident := irradiance * area
	if incident == 0 {
		return nil, &AnalysisError{Quantity: "pce", Err: ErrUndefinedPCE}
	}
	p.PCE = math.Abs(p.FillFactor*p.Isc*p.Voc) / math.Abs(incident) * 100

	for _, q := range []struct {
		name string
		v    float64
	}{
		{"voc", p.Voc},
		{"isc", p.Isc},
		{"fill factor", p.FillFactor},
		{"max power", p.MaxPower},
		{"pce", p.PCE},
	} {
		if math.IsNaN(q.v) || math.IsInf(q.v, 0) {
			return nil, &AnalysisError{Quantity: q.name, Err: ErrNotFinite}
		}
	}

	logrus.WithFields(p.LogrusFields()).Debug("run analyzed")

	return p, nil
}

// LogrusFields returns the scalar parameters as log fields.
func (p *Parameters) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"voc":        p.Voc,
		"isc":        p.Isc,
		"fillFactor": p.FillFactor,
		"maxPower":   p.MaxPower,
		"mppVoltage": p.MPPVoltage,
		"mppCurrent": p.MPPCurrent,
		"pce":        p.PCE,
	}
}

// argminAbs returns the first index of the smallest |x|.
func argminAbs(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if math.Abs(xs[i]) < math.Abs(xs[best]) {
			best = i
		}
	}
	return best
}

// argmin returns the first index of the smallest x.
func argmin(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[best] {
			best = i
		}
	}
	return best
}
