package cpu

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// transpose permutes elements by their byte width; the data type itself
// does not matter.
func transpose(o op.Operator, _ device.Context) error {
	t, ok := o.(*op.TransposeOp)
	if !ok {
		return kernel.Errorf(kernel.KindConfig, "Transpose", "operator %s is not a transpose", o.Type())
	}
	in, out := t.Input(0), t.Output()
	switch size := in.DType().Size(); size {
	case 1:
		permute(tensor.View[uint8](in), tensor.View[uint8](out), in.Dims(), t.Permute())
	case 2:
		permute(tensor.View[uint16](in), tensor.View[uint16](out), in.Dims(), t.Permute())
	case 4:
		permute(tensor.View[uint32](in), tensor.View[uint32](out), in.Dims(), t.Permute())
	case 8:
		permute(tensor.View[uint64](in), tensor.View[uint64](out), in.Dims(), t.Permute())
	default:
		return kernel.Errorf(kernel.KindUnsupported, "Transpose", "element size %d", size)
	}
	return nil
}

// permute walks the output in order; src holds, per output axis, the input
// stride of the axis it came from.
func permute[T any](in, out []T, dims, perm []int) {
	rank := len(perm)
	stride := tensor.Shape(dims).ComputeStrides()
	src := make([]int, rank)
	outDims := make([]int, rank)
	for i, p := range perm {
		src[i] = stride[p]
		outDims[i] = dims[p]
	}

	idx := make([]int, rank)
	off := 0
	for o := range out {
		out[o] = in[off]
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			off += src[d]
			if idx[d] < outDims[d] {
				break
			}
			off -= src[d] * outDims[d]
			idx[d] = 0
		}
	}
}

func transposeName(dt tensor.DataType) string {
	return fmt.Sprintf("Transpose_CPU_%s", dt)
}
