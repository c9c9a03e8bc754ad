//go:build windows

package device

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
)

// GPUBuffer is a WebGPU storage buffer.
type GPUBuffer struct {
	buf  *wgpu.Buffer
	size int
}

// Len returns the size in bytes.
func (b *GPUBuffer) Len() int { return b.size }

// Raw returns the underlying buffer.
func (b *GPUBuffer) Raw() *wgpu.Buffer { return b.buf }

// gpuAllocator creates storage buffers under a byte limit.
type gpuAllocator struct {
	ledger
	device *wgpu.Device
}

func (a *gpuAllocator) Alloc(size int) (Buffer, error) {
	if err := a.reserve(size); err != nil {
		return nil, err
	}
	// Zero-sized buffers are not valid bindings.
	alloc := max(size, 4)
	buf := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  uint64(alloc), //nolint:gosec // non-negative
	})
	return &GPUBuffer{buf: buf, size: size}, nil
}

func (a *gpuAllocator) Free(b Buffer) {
	if gb, ok := b.(*GPUBuffer); ok && gb != nil {
		gb.buf.Release()
		a.release(gb.size)
	}
}

func (a *gpuAllocator) Stats() Stats { return a.snapshot() }

// WebGPUContext runs kernels through WebGPU compute shaders.
type WebGPUContext struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	alloc  *gpuAllocator
	ws     *Workspace
	fence  *wgpu.Buffer
	obs    observerSlot
	tuning tune.Options
	closed bool

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

// NewWebGPU opens the first high-performance adapter.
// Returns ErrDeviceUnavailable if the native library or adapter is missing.
func NewWebGPU(opts ...Option) (ctx Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("%w: webgpu native library not available: %v", ErrDeviceUnavailable, r)
		}
	}()
	o := buildOptions(opts)

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: request adapter: %w", ErrDeviceUnavailable, err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: request device: %w", ErrDeviceUnavailable, err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: no queue", ErrDeviceUnavailable)
	}

	alloc := &gpuAllocator{device: device}
	alloc.stats.Limit = o.MemoryLimit
	return &WebGPUContext{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		alloc:     alloc,
		ws:        NewWorkspace(alloc),
		fence:     device.CreateBuffer(&wgpu.BufferDescriptor{Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc, Size: 4}),
		tuning:    o.Tune,
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}, nil
}

func (c *WebGPUContext) Device() tensor.Device       { return tensor.WebGPU }
func (c *WebGPUContext) Name() string                { return "webgpu:0" }
func (c *WebGPUContext) Stats() Stats                { return c.alloc.Stats() }
func (c *WebGPUContext) Observer() tune.Observer     { return c.obs.get() }
func (c *WebGPUContext) SetObserver(o tune.Observer) { c.obs.set(o) }
func (c *WebGPUContext) TuneOptions() tune.Options   { return c.tuning }

// GPU returns the WebGPU device.
func (c *WebGPUContext) GPU() *wgpu.Device { return c.device }

// Queue returns the device queue.
func (c *WebGPUContext) Queue() *wgpu.Queue { return c.queue }

// Workspace returns the shared storage buffer grown to at least size bytes.
func (c *WebGPUContext) Workspace(size int) (Buffer, error) {
	if c.closed {
		return nil, ErrClosed
	}
	return c.ws.Get(size)
}

// Pipeline compiles code once per name and caches the pipeline.
func (c *WebGPUContext) Pipeline(name, code string) *wgpu.ComputePipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[name]; ok {
		return p
	}
	shader := c.device.CreateShaderModuleWGSL(code)
	p := c.device.CreateComputePipelineSimple(nil, shader, "main")
	c.pipelines[name] = p
	return p
}

// Upload creates a buffer holding data.
func (c *WebGPUContext) Upload(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64((len(data) + 3) &^ 3) //nolint:gosec // non-negative
	buf := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buf.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mapped), size), data)
	buf.Unmap()
	return buf
}

// Download copies len(dst) bytes of src back to the host through a staging buffer.
func (c *WebGPUContext) Download(src *wgpu.Buffer, dst []byte) error {
	size := uint64(len(dst)) //nolint:gosec // non-negative
	staging := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := c.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	c.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(c.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(dst, unsafe.Slice((*byte)(mapped), size))
	staging.Unmap()
	return nil
}

// Sync submits a copy behind all queued work and waits for it to map.
func (c *WebGPUContext) Sync() error {
	if c.closed {
		return ErrClosed
	}
	var b [4]byte
	return c.Download(c.fence, b[:])
}

// Close releases pipelines, buffers and the device.
func (c *WebGPUContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.ws.Release()
	c.fence.Release()
	for _, p := range c.pipelines {
		p.Release()
	}
	c.queue.Release()
	c.device.Release()
	c.adapter.Release()
	c.instance.Release()
	return nil
}
