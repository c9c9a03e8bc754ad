package dispatch

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/op"
)

// OpError reports the operator a run stopped at.
type OpError struct {
	Op op.Operator
	// Kernel is the display name of the resolved kernel, empty when none was found.
	Kernel string
	Err    error
}

func (e *OpError) Error() string {
	if e.Kernel == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Kernel, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
