// Package device provides the per-device execution contexts kernels run
// against: a memory allocator, the shared workspace, device synchronization,
// and for accelerators the compute library handle.
//
// A context is not safe for concurrent kernel invocations; callers serialize
// work on one context and run independent contexts in parallel.
package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/born-ml/kerneltune/internal/dnn"
	"github.com/born-ml/kerneltune/internal/envconfig"
	"github.com/born-ml/kerneltune/internal/parallel"
	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
)

var (
	// ErrDeviceUnavailable is returned when a device cannot be opened on this host.
	ErrDeviceUnavailable = errors.New("device: unavailable")
	// ErrClosed is returned by a context after Close.
	ErrClosed = errors.New("device: context closed")
)

// Context is a per-device execution session.
type Context interface {
	Device() tensor.Device
	Name() string
	// Workspace returns the shared scratch buffer grown to at least size bytes.
	Workspace(size int) (Buffer, error)
	// Sync blocks until the device has finished outstanding work.
	Sync() error
	Stats() Stats
	// Observer receives tuning events; nil when nobody listens.
	Observer() tune.Observer
	SetObserver(tune.Observer)
	TuneOptions() tune.Options
	Close() error
}

// DNNContext is a context backed by a compute library handle.
type DNNContext interface {
	Context
	DNN() *dnn.Handle
}

// Options configure a context.
type Options struct {
	MemoryLimit int64
	Parallel    parallel.Config
	DNN         []dnn.Option
	Tune        tune.Options
}

// Option modifies Options.
type Option func(*Options)

// WithMemoryLimit caps the bytes a context may allocate. Zero is unlimited.
func WithMemoryLimit(n int64) Option {
	return func(o *Options) { o.MemoryLimit = n }
}

// WithParallel sets the worker policy of host kernels.
func WithParallel(cfg parallel.Config) Option {
	return func(o *Options) { o.Parallel = cfg }
}

// WithDNN passes options to the accelerator's compute library handle.
func WithDNN(opts ...dnn.Option) Option {
	return func(o *Options) { o.DNN = append(o.DNN, opts...) }
}

// WithTuneOptions sets the warm-up and timed rounds used when tuning.
func WithTuneOptions(t tune.Options) Option {
	return func(o *Options) { o.Tune = t }
}

func buildOptions(opts []Option) Options {
	o := Options{
		MemoryLimit: int64(envconfig.DeviceMemory()), //nolint:gosec // configured limits fit in int64
		Parallel:    parallel.DefaultConfig(),
		Tune:        tune.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New opens a context for d.
func New(d tensor.Device, opts ...Option) (Context, error) {
	switch d {
	case tensor.CPU:
		return NewCPU(opts...), nil
	case tensor.CUDA:
		return NewCUDA(opts...), nil
	case tensor.BANG:
		return NewBANG(opts...), nil
	case tensor.WebGPU:
		return NewWebGPU(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, d)
	}
}

// observerSlot holds a context's tuning observer.
type observerSlot struct {
	mu  sync.Mutex
	obs tune.Observer
}

func (s *observerSlot) get() tune.Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs
}

func (s *observerSlot) set(o tune.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = o
}

// hostContext is the part shared by contexts whose memory is host memory.
type hostContext struct {
	device tensor.Device
	name   string
	alloc  *HostAllocator
	ws     *Workspace
	obs    *observerSlot
	tuning tune.Options
	closed bool
}

func newHostContext(d tensor.Device, name string, o Options) hostContext {
	alloc := NewHostAllocator(o.MemoryLimit)
	return hostContext{
		device: d,
		name:   name,
		alloc:  alloc,
		ws:     NewWorkspace(alloc),
		obs:    &observerSlot{},
		tuning: o.Tune,
	}
}

func (c *hostContext) Device() tensor.Device       { return c.device }
func (c *hostContext) Name() string                { return c.name }
func (c *hostContext) Stats() Stats                { return c.alloc.Stats() }
func (c *hostContext) Observer() tune.Observer     { return c.obs.get() }
func (c *hostContext) SetObserver(o tune.Observer) { c.obs.set(o) }
func (c *hostContext) TuneOptions() tune.Options   { return c.tuning }

// Allocator returns the context's memory allocator.
func (c *hostContext) Allocator() *HostAllocator { return c.alloc }

// WorkspaceSize returns the current workspace capacity.
func (c *hostContext) WorkspaceSize() int { return c.ws.Size() }

func (c *hostContext) Workspace(size int) (Buffer, error) {
	if c.closed {
		return nil, ErrClosed
	}
	return c.ws.Get(size)
}

func (c *hostContext) close() {
	c.ws.Release()
	c.closed = true
}

// HostWorkspace returns dc's workspace as host memory. It fails for devices
// whose memory the host cannot address.
func HostWorkspace(dc Context, size int) (*HostBuffer, error) {
	buf, err := dc.Workspace(size)
	if err != nil {
		return nil, err
	}
	hb, ok := buf.(*HostBuffer)
	if !ok {
		return nil, fmt.Errorf("device: %s workspace is not host addressable", dc.Device())
	}
	return hb, nil
}

// CPUContext runs kernels on the host.
type CPUContext struct {
	hostContext
	par parallel.Config
}

// NewCPU opens the host CPU context.
func NewCPU(opts ...Option) *CPUContext {
	o := buildOptions(opts)
	name := "cpu"
	if f := cpuFeatures(); f != "" {
		name += " (" + f + ")"
	}
	return &CPUContext{hostContext: newHostContext(tensor.CPU, name, o), par: o.Parallel}
}

// Parallel is the worker policy host kernels use.
func (c *CPUContext) Parallel() parallel.Config { return c.par }

// Sync is a no-op; host kernels finish before returning.
func (c *CPUContext) Sync() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the workspace.
func (c *CPUContext) Close() error {
	c.close()
	return nil
}

func cpuFeatures() string {
	var f []string
	switch {
	case cpu.X86.HasAVX512F:
		f = append(f, "avx512")
	case cpu.X86.HasAVX2:
		f = append(f, "avx2")
	case cpu.ARM64.HasASIMD:
		f = append(f, "asimd")
	}
	if cpu.X86.HasFMA {
		f = append(f, "fma")
	}
	return strings.Join(f, ",")
}

// AcceleratorContext is a host-emulated accelerator with a compute library
// handle. CUDA and BANG contexts differ only in their device tag.
type AcceleratorContext struct {
	hostContext
	handle *dnn.Handle
}

// NewCUDA opens an emulated CUDA-class device.
func NewCUDA(opts ...Option) *AcceleratorContext {
	return newAccelerator(tensor.CUDA, "cuda:0 (emulated)", opts)
}

// NewBANG opens an emulated Cambricon-class device.
func NewBANG(opts ...Option) *AcceleratorContext {
	return newAccelerator(tensor.BANG, "bang:0 (emulated)", opts)
}

func newAccelerator(d tensor.Device, name string, opts []Option) *AcceleratorContext {
	o := buildOptions(opts)
	return &AcceleratorContext{
		hostContext: newHostContext(d, name, o),
		handle:      dnn.NewHandle(o.DNN...),
	}
}

// DNN returns the compute library handle.
func (c *AcceleratorContext) DNN() *dnn.Handle { return c.handle }

// Sync waits for the library's outstanding work.
func (c *AcceleratorContext) Sync() error {
	if c.closed {
		return ErrClosed
	}
	return c.handle.Sync()
}

// Close releases the workspace and reports leaked descriptors.
func (c *AcceleratorContext) Close() error {
	if c.closed {
		return nil
	}
	c.close()
	return c.handle.Close()
}
