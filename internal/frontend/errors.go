package frontend

import (
	"errors"
	"fmt"
)

// ErrConfiguration is wrapped by every ConfigError.
var ErrConfiguration = errors.New("configuration error")

// ConfigError reports a problem with the network or the compilation options that no
// rule can recover from.
type ConfigError struct {
	Details string
	Err     error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Details, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrConfiguration, e.Details)
}

// Unwrap returns ErrConfiguration and the underlying cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Details: fmt.Sprintf(format, args...)}
}

// UnsupportedLayerError aborts a compilation on a layer that could not be lowered.
type UnsupportedLayerError struct {
	Layer   string
	Type    string
	Message string
}

// Error implements the error interface.
func (e *UnsupportedLayerError) Error() string {
	return fmt.Sprintf("Failed to compile layer %q: %s", e.Layer, e.Message)
}
