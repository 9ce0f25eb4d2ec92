// Package analysis reduces a completed IV sweep into photovoltaic figures of
// merit.
//
// Voc and Isc are read at the nearest sample (smallest |I| and smallest |V|
// respectively) without interpolation. This is a coarse approximation of the
// physical definitions and is kept on purpose so results match the values
// reported by earlier tooling.
package analysis
