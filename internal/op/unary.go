package op

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/tensor"
)

// UnaryOp is an elementwise operator with one input and an output of the same shape.
type UnaryOp struct {
	base
}

// NewUnary builds an elementwise operator of kind typ.
func NewUnary(typ OpType, input *tensor.RawTensor) (*UnaryOp, error) {
	if !typ.IsUnary() {
		return nil, fmt.Errorf("unary: %s is not an elementwise operator", typ)
	}
	out, err := tensor.NewRaw(input.Shape(), input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("unary: failed to create output tensor: %w", err)
	}
	op := &UnaryOp{base: newBase(typ, []*tensor.RawTensor{input})}
	op.output = out
	return op, nil
}

// Signature is the operator kind with its shapes.
func (u *UnaryOp) Signature() string { return u.shapeKey() }
