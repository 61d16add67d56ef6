package rules

import (
	"fmt"

	"github.com/born-ml/vpuc/internal/source"
)

// UnsupportedError is returned by a rule that rejects a node outright. Unlike other
// rule errors it is not recoverable per node: it aborts the compilation.
type UnsupportedError struct {
	Node   string
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported layer %q: %s", e.Node, e.Reason)
}

// Unsupported builds an UnsupportedError for node.
func Unsupported(node *source.Node, format string, args ...any) error {
	return &UnsupportedError{Node: node.Name, Reason: fmt.Sprintf(format, args...)}
}
