// Package kernel defines the contract every backend kernel implements and
// the registry that maps (device, operator, data type) to a kernel.
package kernel

import (
	"errors"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/dnn"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tune"
)

// Kernel executes one operator kind on one device for one data type.
// Kernels are stateless and shared; all per-call state lives in the
// operator, the record and the device context.
type Kernel interface {
	// Compute runs with DefaultRecord.
	Compute(o op.Operator, dc device.Context) error
	// ComputeWith runs with rec, which must be of this kernel's record type.
	ComputeWith(o op.Operator, rec PerfRecord, dc device.Context) error
	// Tune searches the configuration space of o on dc for the fastest record.
	// When nothing could be measured it returns DefaultRecord with an
	// unmeasured time and no error.
	Tune(o op.Operator, dc device.Context) (PerfRecord, error)
	// DefaultRecord is the conservative configuration Compute uses.
	DefaultRecord() PerfRecord
}

// ComputeFunc is the body of a kernel without configuration.
type ComputeFunc func(o op.Operator, dc device.Context) error

type withoutConfig struct {
	name    string
	compute ComputeFunc
}

// WithoutConfig builds a Kernel from a compute function. Its record is a
// BaseRecord and tuning times one default compute.
func WithoutConfig(name string, compute ComputeFunc) Kernel {
	return &withoutConfig{name: name, compute: compute}
}

func (k *withoutConfig) Compute(o op.Operator, dc device.Context) error {
	return k.compute(o, dc)
}

func (k *withoutConfig) ComputeWith(o op.Operator, rec PerfRecord, dc device.Context) error {
	RecordAs[*BaseRecord](rec)
	return k.compute(o, dc)
}

func (k *withoutConfig) DefaultRecord() PerfRecord {
	return &BaseRecord{TimeMs: tune.Unmeasured}
}

func (k *withoutConfig) Tune(o op.Operator, dc device.Context) (PerfRecord, error) {
	res := tune.Search(k.name, []tune.Candidate{{}}, func(tune.Candidate) (tune.Measurement, error) {
		ms, err := tune.Timeit(func() error { return k.compute(o, dc) }, dc.Sync, dc.TuneOptions())
		return tune.Measurement{TimeMs: ms}, err
	}, dc.Observer())
	if !res.Found {
		return k.DefaultRecord(), nil
	}
	return &BaseRecord{TimeMs: res.TimeMs}, nil
}

// Classify maps backend and device errors to error kinds for op.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	switch {
	case errors.Is(err, device.ErrOutOfMemory):
		return Wrap(KindResourceExhausted, op, "workspace allocation failed", err)
	case errors.Is(err, dnn.ErrNotSupported):
		return Wrap(KindUnsupported, op, "configuration declined by the backend", err)
	default:
		return Wrap(KindExecution, op, "backend call failed", err)
	}
}
