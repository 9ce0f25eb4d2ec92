package sweep

import (
	"errors"
	"fmt"
)

// ErrNoSweep is returned when no sweep has been started yet.
var ErrNoSweep = errors.New("no sweep started")

// ErrBusy is returned by TryStart while another sweep is running.
var ErrBusy = errors.New("a sweep is already running")

// ConfigurationError reports invalid sweep parameters. It is detected before
// any instrument I/O.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid sweep configuration: %s %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
