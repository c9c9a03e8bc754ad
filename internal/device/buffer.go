package device

import (
	"fmt"
	"unsafe"
)

// Buffer is device memory handed out by an Allocator.
type Buffer interface {
	Len() int
}

// HostBuffer is host-addressable memory. Emulated accelerators share the
// host address space, so their workspaces are HostBuffers too.
// The backing store is word sized, so every view is 8-byte aligned.
type HostBuffer struct {
	words []uint64
	n     int
}

func newHostBuffer(n int) *HostBuffer {
	return &HostBuffer{words: make([]uint64, (n+7)/8), n: n}
}

// Len returns the size in bytes.
func (b *HostBuffer) Len() int { return b.n }

// Bytes returns the buffer contents.
func (b *HostBuffer) Bytes() []byte {
	if b.n == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice over the word backing, bounded by n
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), b.n)
}

// Float32s views the first n elements as float32.
func (b *HostBuffer) Float32s(n int) []float32 { return viewAs[float32](b, n) }

// Float64s views the first n elements as float64.
func (b *HostBuffer) Float64s(n int) []float64 { return viewAs[float64](b, n) }

// Int32s views the first n elements as int32.
func (b *HostBuffer) Int32s(n int) []int32 { return viewAs[int32](b, n) }

// Uint32s views the first n elements as uint32.
func (b *HostBuffer) Uint32s(n int) []uint32 { return viewAs[uint32](b, n) }

// HostView views the first n elements of b as T.
func HostView[T any](b *HostBuffer, n int) []T { return viewAs[T](b, n) }

func viewAs[T any](b *HostBuffer, n int) []T {
	var zero T
	if need := n * int(unsafe.Sizeof(zero)); need > b.n {
		panic(fmt.Sprintf("device: view of %d bytes on a %d byte buffer", need, b.n))
	}
	if n == 0 {
		return nil
	}
	//nolint:gosec // bounds checked above
	return unsafe.Slice((*T)(unsafe.Pointer(&b.words[0])), n)
}
