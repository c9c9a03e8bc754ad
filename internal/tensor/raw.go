package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// RawTensor is the storage handle kernels read and write.
//
// Storage is host addressable for every device: the emulated accelerators
// share the host address space (unified memory), so a DevicePtr is just the
// backing slice. Storage is 8-byte aligned so it can be reinterpreted as any
// element type.
type RawTensor struct {
	words  []uint64
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zeroed; outputs are written in place by kernels.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	byteSize := shape.NumElements() * dtype.Size()

	return &RawTensor{
		words:  make([]uint64, (byteSize+7)/8),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// MustRaw is NewRaw for shapes known to be valid.
func MustRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return r
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Dims returns the dimensions as a plain slice.
func (r *RawTensor) Dims() []int {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	//nolint:gosec // unsafe.Slice over the aligned word backing, bounded by ByteSize()
	return unsafe.Slice((*byte)(unsafe.Pointer(&r.words[0])), r.ByteSize())
}

func (r *RawTensor) check(dt DataType) {
	if r.dtype != dt {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, dt))
	}
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	r.check(Float32)
	return view[float32](r)
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	r.check(Float64)
	return view[float64](r)
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	r.check(Int32)
	return view[int32](r)
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	r.check(Int64)
	return view[int64](r)
}

// AsUint32 interprets the data as []uint32.
// Panics if the tensor's dtype is not UInt32.
func (r *RawTensor) AsUint32() []uint32 {
	r.check(UInt32)
	return view[uint32](r)
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	r.check(Uint8)
	return r.Data()
}

// AsFloat16 interprets the data as []float16.Float16.
// Panics if the tensor's dtype is not Float16.
func (r *RawTensor) AsFloat16() []float16.Float16 {
	r.check(Float16)
	return view[float16.Float16](r)
}

// View reinterprets the storage as []T without checking the dtype.
// Callers must have matched T to DType() themselves.
func View[T any](r *RawTensor) []T {
	return view[T](r)
}

func view[T any](r *RawTensor) []T {
	//nolint:gosec // unsafe.Slice for zero-copy access, storage is 8-byte aligned and sized by ByteSize()
	return unsafe.Slice((*T)(unsafe.Pointer(&r.words[0])), r.NumElements())
}

// CopyFrom copies the contents of src, which must have the same dtype and shape.
// The source may live on another device; storage is host addressable.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if src.dtype != r.dtype {
		return fmt.Errorf("copy: dtype mismatch %s vs %s", src.dtype, r.dtype)
	}
	if !src.shape.Equal(r.shape) {
		return fmt.Errorf("copy: shape mismatch %v vs %v", src.shape, r.shape)
	}
	copy(r.words, src.words)
	return nil
}

// CopyData fills the tensor from a typed slice whose element type matches the dtype.
func (r *RawTensor) CopyData(values any) error {
	n := r.NumElements()
	switch v := values.(type) {
	case []float32:
		r.check(Float32)
		return copyExact(r.AsFloat32(), v, n)
	case []float64:
		r.check(Float64)
		return copyExact(r.AsFloat64(), v, n)
	case []int32:
		r.check(Int32)
		return copyExact(r.AsInt32(), v, n)
	case []int64:
		r.check(Int64)
		return copyExact(r.AsInt64(), v, n)
	case []uint32:
		r.check(UInt32)
		return copyExact(r.AsUint32(), v, n)
	case []float16.Float16:
		r.check(Float16)
		return copyExact(r.AsFloat16(), v, n)
	default:
		return fmt.Errorf("copy: unsupported source type %T", values)
	}
}

func copyExact[T any](dst, src []T, n int) error {
	if len(src) != n {
		return fmt.Errorf("copy: got %d values, tensor holds %d", len(src), n)
	}
	copy(dst, src)
	return nil
}

// Zero clears the tensor storage.
func (r *RawTensor) Zero() {
	clear(r.words)
}

func (r *RawTensor) String() string {
	return fmt.Sprintf("Tensor(%v, %s, %s)", r.shape, r.dtype, r.device)
}
