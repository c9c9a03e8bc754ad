// Package op defines the operators kernels execute and the graph that orders them.
//
// Operators are immutable once added to a Graph: kernels only read their
// inputs, parameters and output shape, and write the output tensor in place.
package op

// OpType identifies the mathematical operation of an operator.
type OpType int

// Operator kinds.
const (
	Conv OpType = iota
	Transpose
	Sin
	Cos
	Tan
	Asin
	Acos
	Atan
	Sinh
	Cosh
	Tanh
	Asinh
	Acosh
	Atanh
	Relu
	Sigmoid
)

var opTypeNames = [...]string{
	Conv:      "Conv",
	Transpose: "Transpose",
	Sin:       "Sin",
	Cos:       "Cos",
	Tan:       "Tan",
	Asin:      "Asin",
	Acos:      "Acos",
	Atan:      "Atan",
	Sinh:      "Sinh",
	Cosh:      "Cosh",
	Tanh:      "Tanh",
	Asinh:     "Asinh",
	Acosh:     "Acosh",
	Atanh:     "Atanh",
	Relu:      "Relu",
	Sigmoid:   "Sigmoid",
}

func (t OpType) String() string {
	if t >= 0 && int(t) < len(opTypeNames) {
		return opTypeNames[t]
	}
	return "Unknown"
}

// IsUnary reports whether the operator is elementwise with one input.
func (t OpType) IsUnary() bool {
	return t >= Sin && t <= Sigmoid
}

// Trigonometric lists the trigonometric family in declaration order.
func Trigonometric() []OpType {
	return []OpType{Sin, Cos, Tan, Asin, Acos, Atan, Sinh, Cosh, Tanh, Asinh, Acosh, Atanh}
}

// ParseOpType is the inverse of OpType.String.
func ParseOpType(s string) (OpType, bool) {
	for i, name := range opTypeNames {
		if name == s {
			return OpType(i), true
		}
	}
	return 0, false
}

// ActType is the activation fused after an operator, if any.
type ActType int

// Activations.
const (
	ActNone ActType = iota
	ActRelu
	ActSigmoid
)

func (a ActType) String() string {
	switch a {
	case ActNone:
		return "None"
	case ActRelu:
		return "Relu"
	case ActSigmoid:
		return "Sigmoid"
	default:
		return "Unknown"
	}
}
