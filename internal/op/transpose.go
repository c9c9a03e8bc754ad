package op

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/tensor"
)

// TransposeOp permutes the axes of its input: out.dims[i] = in.dims[perm[i]].
type TransposeOp struct {
	base
	perm []int
}

// NewTranspose validates perm is a permutation of the input axes.
func NewTranspose(input *tensor.RawTensor, perm []int) (*TransposeOp, error) {
	in := input.Shape()
	if len(perm) != len(in) {
		return nil, fmt.Errorf("transpose: permutation %v has %d axes, input has %d", perm, len(perm), len(in))
	}
	seen := make([]bool, len(perm))
	outShape := make(tensor.Shape, len(perm))
	for i, a := range perm {
		if a < 0 || a >= len(perm) || seen[a] {
			return nil, fmt.Errorf("transpose: %v is not a permutation", perm)
		}
		seen[a] = true
		outShape[i] = in[a]
	}

	out, err := tensor.NewRaw(outShape, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("transpose: failed to create output tensor: %w", err)
	}
	op := &TransposeOp{base: newBase(Transpose, []*tensor.RawTensor{input}), perm: append([]int(nil), perm...)}
	op.output = out
	return op, nil
}

// Permute returns the permutation.
func (t *TransposeOp) Permute() []int { return t.perm }

// Signature includes the permutation.
func (t *TransposeOp) Signature() string {
	return fmt.Sprintf("%s;perm=%v", t.shapeKey(), t.perm)
}
