package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrInvalidFormat      = errors.New("not a stage graph dump")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
)

// ValidationError describes an inconsistent dump.
type ValidationError struct {
	Type    string // Kind of problem (e.g. "unknown_data", "duplicate_id")
	Stage   string // Stage involved, if any
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: stage %q: %s", e.Type, e.Stage, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
