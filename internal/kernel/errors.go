package kernel

import (
	"errors"
	"fmt"
)

// Kind classifies kernel errors.
type Kind int

const (
	// KindConfig is a wiring defect: duplicate keys, mismatched records.
	KindConfig Kind = iota
	// KindUnsupported means the backend declined a configuration.
	KindUnsupported
	// KindResourceExhausted means device memory ran out.
	KindResourceExhausted
	// KindExecution means a backend call failed on the selected record.
	KindExecution
	// KindShapeMismatch means the backend disagrees with the operator's output shape.
	KindShapeMismatch
	// KindNoKernel means no kernel is registered for an operator.
	KindNoKernel
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindUnsupported:
		return "Unsupported"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindExecution:
		return "Execution"
	case KindShapeMismatch:
		return "ShapeMismatch"
	case KindNoKernel:
		return "NoKernel"
	default:
		return "Unknown"
	}
}

var (
	// ErrNoKernel is matched by every lookup failure.
	ErrNoKernel = errors.New("no kernel available")
	// ErrDuplicateKernel is returned when a key or name is registered twice.
	ErrDuplicateKernel = errors.New("kernel already registered")
)

// Error is a classified kernel failure.
type Error struct {
	Kind    Kind
	Op      string // kernel or registry call that failed
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error in %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. It returns nil for a nil err.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err must not be retried automatically: resource
// exhaustion, execution failure of a selected record, shape mismatches and
// configuration defects.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k != KindUnsupported && k != KindNoKernel
}
