// Package dnn is a host-emulated deep learning primitives library with the
// shape of cuDNN and CNNL: a session Handle, opaque descriptors that must be
// created and destroyed around every call, workspace size queries, and
// forward routines that run in the caller's memory.
//
// Device memory is unified with host memory, so data arguments are plain
// slices and workspaces are byte slices handed out by the caller.
package dnn

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Status errors returned by the library. Calls wrap them with the call name.
var (
	// ErrNotSupported means the library declines this configuration.
	ErrNotSupported = errors.New("dnn: not supported")
	// ErrBadParam means a descriptor or buffer does not fit the call.
	ErrBadParam = errors.New("dnn: bad parameter")
	// ErrExecutionFailed means the call started but did not complete.
	ErrExecutionFailed = errors.New("dnn: execution failed")
	// ErrDestroyed means a descriptor was used after Destroy.
	ErrDestroyed = errors.New("dnn: descriptor destroyed")
)

// DataType is the element type a descriptor declares.
type DataType int

// Data types.
const (
	DataFloat DataType = iota
	DataDouble
	DataHalf
	DataInt32
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case DataDouble:
		return 8
	case DataHalf:
		return 2
	default:
		return 4
	}
}

func (d DataType) String() string {
	switch d {
	case DataFloat:
		return "float"
	case DataDouble:
		return "double"
	case DataHalf:
		return "half"
	case DataInt32:
		return "int32"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// Layout is the memory layout a tensor descriptor declares.
type Layout int

// Layouts.
const (
	LayoutNCHW Layout = iota
	LayoutArray
)

// Handle is a library session. It is not safe for concurrent use; every call
// on one handle must come from one goroutine at a time.
type Handle struct {
	live  atomic.Int64
	algos uint32
	fault func(call string) error
}

// Option configures a Handle.
type Option func(*Handle)

// WithConvAlgos restricts the convolution algorithms the handle accepts.
func WithConvAlgos(algos ...ConvAlgo) Option {
	return func(h *Handle) {
		h.algos = 0
		for _, a := range algos {
			h.algos |= 1 << uint(a)
		}
	}
}

// WithFaultHook installs a hook called at the start of every library call
// with the call name. A non-nil result fails the call with that error.
func WithFaultHook(hook func(call string) error) Option {
	return func(h *Handle) {
		h.fault = hook
	}
}

// NewHandle creates a session with every emulated algorithm enabled.
func NewHandle(opts ...Option) *Handle {
	h := &Handle{algos: emulatedAlgos}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetFaultHook replaces the fault hook. Nil removes it.
func (h *Handle) SetFaultHook(hook func(call string) error) {
	h.fault = hook
}

// LiveDescriptors returns the number of descriptors created and not yet destroyed.
func (h *Handle) LiveDescriptors() int {
	return int(h.live.Load())
}

// Sync waits for outstanding work. Host emulation runs every call to
// completion, so only the fault hook can make it fail.
func (h *Handle) Sync() error {
	return h.enter("Sync")
}

// Close reports descriptors that were never destroyed.
func (h *Handle) Close() error {
	if n := h.LiveDescriptors(); n != 0 {
		return fmt.Errorf("dnn: %d descriptors still alive at close", n)
	}
	return nil
}

func (h *Handle) enter(call string) error {
	if h.fault == nil {
		return nil
	}
	if err := h.fault(call); err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	return nil
}

func (h *Handle) algoEnabled(a ConvAlgo) bool {
	return h.algos&(1<<uint(a)) != 0
}
