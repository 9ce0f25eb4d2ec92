package instrument

import "sort"

// Reference IV curve of a small perovskite cell, used to drive the simulator.
var (
	referenceVoltages = []float64{
		-1, -0.95918, -0.91837, -0.87755, -0.83673, -0.79592, -0.7551, -0.71429, -0.67347, -0.63265,
		-0.59184, -0.55102, -0.5102, -0.46939, -0.42857, -0.38776, -0.34694, -0.30612, -0.26531, -0.22449,
		-0.18367, -0.14286, -0.10204, -0.06122, -0.02041, 0, 0.02041, 0.06122, 0.10204, 0.14286,
		0.18367, 0.22449, 0.26531, 0.30612, 0.34694, 0.38776, 0.42857, 0.45066, 0.46939, 0.5102,
		0.55102, 0.59184, 0.63265, 0.67347, 0.71429, 0.7551, 0.79592, 0.83673, 0.87755, 0.91837,
		0.95918, 1,
	}
	referenceCurrents = []float64{
		-0.00129, -0.0013, -0.0013, -0.00129, -0.00129, -0.00129, -0.0013, -0.0013, -0.00129, -0.00129,
		-0.00129, -0.00129, -0.00129, -0.00129, -0.00129, -0.00129, -0.00129, -0.00128, -0.00128, -0.00129,
		-0.00129, -0.00128, -0.00128, -0.00128, -0.00128, -0.00127, -0.00128, -0.00127, -0.00126, -0.00125,
		-0.00122, -0.00119, -0.00114, -0.00104, -9.00585e-4, -6.54968e-4, -2.74127e-4, 4.6524e-6, 2.94651e-4, 0.0011,
		0.00215, 0.00351, 0.00522, 0.00742, 0.01038, 0.01445, 0.02002, 0.02744, 0.03681, 0.0481,
		0.06119, 0.0759,
	}
)

// ReferenceCurve plays back the reference dataset, interpolating linearly
// between its samples and holding the end values outside [-1, 1] V.
func ReferenceCurve() CurrentFunc {
	return TableCurve(referenceVoltages, referenceCurrents)
}

// TableCurve interpolates currents over ascending voltages.
func TableCurve(voltages, currents []float64) CurrentFunc {
	vs := append([]float64(nil), voltages...)
	is := append([]float64(nil), currents...)
	return func(v float64) float64 {
		if len(vs) == 0 {
			return 0
		}
		if v <= vs[0] {
			return is[0]
		}
		if v >= vs[len(vs)-1] {
			return is[len(is)-1]
		}
		j := sort.SearchFloat64s(vs, v)
		if vs[j] == v {
			return is[j]
		}
		v0, v1 := vs[j-1], vs[j]
		i0, i1 := is[j-1], is[j]
		return i0 + (i1-i0)*(v-v0)/(v1-v0)
	}
}
