package analysis

import (
	"bufio"
	"io"
	"strconv"

	"github.com/charlie0129/pvsweep/pkg/sweep"
)

// Undefined stands in for a parameter that could not be derived.
const Undefined = "undefined"

// WriteText writes run as a tab separated table:
//
//	Voltage	Current
//	<v>	<i>
//	...
//	Voc: <v>
//	Isc: ...
//
// followed by FF, Max_Power, MPP_Voltage, MPP_Current and PCE. Samples and
// parameters use scientific notation with 9 decimals; PCE uses 3 decimals.
// Formatting does not depend on the locale.
//
// p may be nil when the run could not be analyzed. The samples are written
// regardless; the curve values are read off the run and FF and PCE are
// written as Undefined. An empty run gives the header only.
func WriteText(w io.Writer, run sweep.Run, p *Parameters) error {
	bw := bufio.NewWriter(w)

	_, _ = bw.WriteString("Voltage\tCurrent\n")
	for _, pt := range run.Points {
		_, _ = bw.WriteString(formatSample(pt.Voltage))
		_ = bw.WriteByte('\t')
		_, _ = bw.WriteString(formatSample(pt.Current))
		_ = bw.WriteByte('\n')
	}

	var c *Curve
	ff, pce := Undefined, Undefined
	if p != nil {
		c = &p.Curve
		ff = formatSample(p.FillFactor)
		pce = strconv.FormatFloat(p.PCE, 'f', 3, 64)
	} else if cv, err := NewCurve(run); err == nil {
		c = cv
	}
	if c == nil {
		return bw.Flush()
	}

	for _, kv := range []struct {
		name  string
		value string
	}{
		{"Voc", formatSample(c.Voc)},
		{"Isc", formatSample(c.Isc)},
		{"FF", ff},
		{"Max_Power", formatSample(c.MaxPower)},
		{"MPP_Voltage", formatSample(c.MPPVoltage)},
		{"MPP_Current", formatSample(c.MPPCurrent)},
		{"PCE", pce},
	} {
		_, _ = bw.WriteString(kv.name + ": " + kv.value + "\n")
	}

	return bw.Flush()
}

func formatSample(v float64) string {
	return strconv.FormatFloat(v, 'e', 9, 64)
}
