// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"log/slog"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/dispatch"
	"github.com/born-ml/kerneltune/internal/envconfig"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/kernels"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
	"github.com/born-ml/kerneltune/internal/tunecache"
)

// Device is where tensors live and kernels run.
type Device = tensor.Device

// Devices.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	BANG   Device = tensor.BANG
	WebGPU Device = tensor.WebGPU
)

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Data types with kernels on at least one device.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Float16 DataType = tensor.Float16
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	UInt32  DataType = tensor.UInt32
)

type (
	// Shape is the dimensions of a tensor.
	Shape = tensor.Shape
	// RawTensor is host-visible tensor storage tagged with its device.
	RawTensor = tensor.RawTensor
	// Graph is a set of operators bound to one device.
	Graph = op.Graph
	// Operator is one node of a Graph.
	Operator = op.Operator
	// OpType is the operator kind.
	OpType = op.OpType
	// ConvParams are the padding, stride, dilation and activation of a convolution.
	ConvParams = op.ConvParams
	// RunOptions select tuning, caching and profiling for one run.
	RunOptions = dispatch.RunOptions
	// OpRecord is the record an operator ran with.
	OpRecord = dispatch.OpRecord
	// ProfileEntry is the accumulated time of one operator type.
	ProfileEntry = dispatch.ProfileEntry
	// PerfRecord is one configuration of a kernel with its measured time.
	PerfRecord = kernel.PerfRecord
	// Event is one tuning step.
	Event = tune.Event
	// Observer receives tuning events.
	Observer = tune.Observer
	// KernelEntry is one registered kernel with its display name.
	KernelEntry = kernel.Entry
	// NoKernelError reports a kernel lookup that found nothing.
	NoKernelError = kernel.NoKernelError
)

// Errors callers can match with errors.Is.
var (
	ErrNoKernel          = kernel.ErrNoKernel
	ErrOutOfMemory       = device.ErrOutOfMemory
	ErrDeviceUnavailable = device.ErrDeviceUnavailable
)

// Unmeasured is the time of a record that was never measured.
const Unmeasured = tune.Unmeasured

// DefaultConvParams is a unit stride, unit dilation convolution without padding.
func DefaultConvParams() ConvParams { return op.DefaultConvParams() }

// DefaultRunOptions tunes every operator and shares records by shape.
func DefaultRunOptions() RunOptions { return dispatch.DefaultRunOptions() }

// IsFatal reports whether err must not be retried with the same record.
func IsFatal(err error) bool { return kernel.IsFatal(err) }

// Engine runs graphs on one device.
type Engine struct {
	*dispatch.Runtime

	dc    device.Context
	cache *tunecache.Cache
}

type options struct {
	cachePath string
	logger    *slog.Logger
	device    []device.Option
}

// Option configures Open.
type Option func(*options)

// WithCache persists tuned records in the SQLite file at path. An empty
// path disables persistence.
func WithCache(path string) Option {
	return func(o *options) { o.cachePath = path }
}

// WithLogger logs tuning and profiling through l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMemoryLimit caps the bytes the device context may allocate.
func WithMemoryLimit(n int64) Option {
	return func(o *options) { o.device = append(o.device, device.WithMemoryLimit(n)) }
}

// WithTuning sets the warm-up and timed rounds per tuning candidate.
func WithTuning(warmup, rounds int) Option {
	return func(o *options) {
		o.device = append(o.device, device.WithTuneOptions(tune.Options{Warmup: warmup, Rounds: rounds}))
	}
}

// Open registers the built-in kernels once and opens an engine on d.
//
// Example:
//
//	eng, err := engine.Open(engine.CPU, engine.WithTuning(0, 3))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
func Open(d Device, opts ...Option) (*Engine, error) {
	o := options{cachePath: envconfig.Cache(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := kernels.Init(); err != nil {
		return nil, err
	}
	dc, err := device.New(d, o.device...)
	if err != nil {
		return nil, err
	}

	var cache *tunecache.Cache
	if o.cachePath != "" {
		if cache, err = tunecache.Open(o.cachePath); err != nil {
			dc.Close()
			return nil, err
		}
	}

	rt := dispatch.New(dc,
		dispatch.WithPerfEngine(dispatch.NewPerfEngine(cache)),
		dispatch.WithLogger(o.logger),
	)
	return &Engine{Runtime: rt, dc: dc, cache: cache}, nil
}

// Device returns the device the engine runs on.
func (e *Engine) Device() Device { return e.dc.Device() }

// Name is the device context's description.
func (e *Engine) Name() string { return e.dc.Name() }

// NewGraph returns an empty graph on the engine's device.
func (e *Engine) NewGraph() *Graph { return op.NewGraph(e.dc.Device()) }

// Close releases the device context and the record cache.
func (e *Engine) Close() error {
	err := e.dc.Close()
	if e.cache != nil {
		err = errors.Join(err, e.cache.Close())
	}
	return err
}

// Kernels lists every registered kernel ordered by device, operator and
// data type.
func Kernels() ([]KernelEntry, error) {
	if err := kernels.Init(); err != nil {
		return nil, err
	}
	return kernel.Global().Entries(), nil
}

// LookupKernel finds a registered kernel by display name. A miss is a
// *NoKernelError naming the closest registered name.
func LookupKernel(name string) (KernelEntry, error) {
	if err := kernels.Init(); err != nil {
		return KernelEntry{}, err
	}
	return kernel.Global().LookupName(name)
}

// ParseDevice resolves a device name case-insensitively.
func ParseDevice(s string) (Device, bool) { return tensor.ParseDevice(s) }
