package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyRun            = errors.New("run has no samples")
	ErrUndefinedFillFactor = errors.New("fill factor undefined: voc * isc is zero")
	ErrUndefinedPCE        = errors.New("pce undefined: irradiance * area is zero")
	ErrNotFinite           = errors.New("non-finite value")
)

// AnalysisError is returned when a parameter cannot be derived from a run.
type AnalysisError struct {
	Quantity string
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis: %s: %v", e.Quantity, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// IsAnalysisError reports whether err carries an AnalysisError.
func IsAnalysisError(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}
