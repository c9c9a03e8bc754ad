package op

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/born-ml/kerneltune/internal/tensor"
)

// Operator is the read-only view kernels have of a graph node.
type Operator interface {
	// ID identifies this operator instance; tuned records are cached by it.
	ID() uuid.UUID
	Type() OpType
	Inputs() []*tensor.RawTensor
	Input(i int) *tensor.RawTensor
	Output() *tensor.RawTensor
	// DType is the element type kernels are selected for (the output's).
	DType() tensor.DataType
	// Signature is a stable key of shapes and parameters. Two operators with
	// equal signatures can share a tuned record.
	Signature() string
	String() string
}

// base carries what every operator has.
type base struct {
	id     uuid.UUID
	typ    OpType
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newBase(typ OpType, inputs []*tensor.RawTensor) base {
	return base{id: uuid.New(), typ: typ, inputs: inputs}
}

func (b *base) ID() uuid.UUID                 { return b.id }
func (b *base) Type() OpType                  { return b.typ }
func (b *base) Inputs() []*tensor.RawTensor   { return b.inputs }
func (b *base) Output() *tensor.RawTensor     { return b.output }
func (b *base) DType() tensor.DataType        { return b.output.DType() }
func (b *base) Input(i int) *tensor.RawTensor { return b.inputs[i] }

// shapeKey renders the input and output shapes of an operator.
func (b *base) shapeKey() string {
	var sb strings.Builder
	sb.WriteString(b.typ.String())
	for _, in := range b.inputs {
		fmt.Fprintf(&sb, ";%v", []int(in.Shape()))
	}
	fmt.Fprintf(&sb, "->%v:%s", []int(b.output.Shape()), b.output.DType())
	return sb.String()
}

func (b *base) String() string {
	return fmt.Sprintf("%s[%s] %v -> %v", b.typ, b.id.String()[:8], inputShapes(b.inputs), b.output.Shape())
}

func inputShapes(ins []*tensor.RawTensor) []tensor.Shape {
	out := make([]tensor.Shape, len(ins))
	for i, in := range ins {
		out[i] = in.Shape()
	}
	return out
}
