package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// Generator produces the value of element i as float64; Fill converts it to the dtype.
type Generator func(i int) float64

// IncrementalGenerator sets element i to i.
func IncrementalGenerator() Generator {
	return func(i int) float64 { return float64(i) }
}

// OneGenerator sets every element to 1.
func OneGenerator() Generator {
	return func(int) float64 { return 1 }
}

// ValueGenerator sets every element to v.
func ValueGenerator(v float64) Generator {
	return func(int) float64 { return v }
}

// Fill writes gen(i) into every element.
func (r *RawTensor) Fill(gen Generator) {
	switch r.dtype {
	case Float32:
		fillAs(r.AsFloat32(), gen, func(v float64) float32 { return float32(v) })
	case Float64:
		fillAs(r.AsFloat64(), gen, func(v float64) float64 { return v })
	case Int32:
		fillAs(r.AsInt32(), gen, func(v float64) int32 { return int32(v) })
	case Int64:
		fillAs(r.AsInt64(), gen, func(v float64) int64 { return int64(v) })
	case UInt32:
		fillAs(r.AsUint32(), gen, func(v float64) uint32 { return uint32(v) })
	case Uint8:
		fillAs(r.AsUint8(), gen, func(v float64) uint8 { return uint8(v) })
	case Float16:
		fillAs(r.AsFloat16(), gen, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) })
	default:
		panic(fmt.Sprintf("fill: unsupported dtype %s", r.dtype))
	}
}

func fillAs[T any](dst []T, gen Generator, conv func(float64) T) {
	for i := range dst {
		dst[i] = conv(gen(i))
	}
}

// Float64s returns a float64 copy of the tensor values, for comparisons and printing.
func (r *RawTensor) Float64s() []float64 {
	out := make([]float64, r.NumElements())
	switch r.dtype {
	case Float32:
		for i, v := range r.AsFloat32() {
			out[i] = float64(v)
		}
	case Float64:
		copy(out, r.AsFloat64())
	case Int32:
		for i, v := range r.AsInt32() {
			out[i] = float64(v)
		}
	case Int64:
		for i, v := range r.AsInt64() {
			out[i] = float64(v)
		}
	case UInt32:
		for i, v := range r.AsUint32() {
			out[i] = float64(v)
		}
	case Uint8:
		for i, v := range r.AsUint8() {
			out[i] = float64(v)
		}
	case Float16:
		for i, v := range r.AsFloat16() {
			out[i] = float64(v.Float32())
		}
	default:
		panic(fmt.Sprintf("float64s: unsupported dtype %s", r.dtype))
	}
	return out
}
