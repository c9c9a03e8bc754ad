package cpu

import (
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/parallel"
	"github.com/born-ml/kerneltune/internal/tensor"
)

var unaryFuncs = map[op.OpType]func(float64) float64{
	op.Sin:     math.Sin,
	op.Cos:     math.Cos,
	op.Tan:     math.Tan,
	op.Asin:    math.Asin,
	op.Acos:    math.Acos,
	op.Atan:    math.Atan,
	op.Sinh:    math.Sinh,
	op.Cosh:    math.Cosh,
	op.Tanh:    math.Tanh,
	op.Asinh:   math.Asinh,
	op.Acosh:   math.Acosh,
	op.Atanh:   math.Atanh,
	op.Relu:    relu,
	op.Sigmoid: sigmoid,
}

func relu(x float64) float64 { return math.Max(x, 0) }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// unaryDTypes are the element types the elementwise kernels exist for.
var unaryDTypes = []tensor.DataType{tensor.Float32, tensor.Float64, tensor.Float16}

// unaryOps lists the elementwise kernels in registration order.
func unaryOps() []op.OpType {
	return append(op.Trigonometric(), op.Relu, op.Sigmoid)
}

// unary returns the compute function of typ. Float16 is widened to float32
// per element.
func unary(typ op.OpType) kernel.ComputeFunc {
	fn := unaryFuncs[typ]
	return func(o op.Operator, dc device.Context) error {
		if o.Type() != typ {
			return kernel.Errorf(kernel.KindConfig, typ.String(), "operator %s passed to the %s kernel", o.Type(), typ)
		}
		cfg := workers(dc)
		in, out := o.Input(0), o.Output()
		switch in.DType() {
		case tensor.Float32:
			x, y := in.AsFloat32(), out.AsFloat32()
			parallel.For(len(x), func(i int) { y[i] = float32(fn(float64(x[i]))) }, cfg)
		case tensor.Float64:
			x, y := in.AsFloat64(), out.AsFloat64()
			parallel.For(len(x), func(i int) { y[i] = fn(x[i]) }, cfg)
		case tensor.Float16:
			x, y := in.AsFloat16(), out.AsFloat16()
			parallel.For(len(x), func(i int) {
				y[i] = float16.Fromfloat32(float32(fn(float64(x[i].Float32()))))
			}, cfg)
		default:
			return kernel.Errorf(kernel.KindUnsupported, typ.String(), "data type %s", in.DType())
		}
		return nil
	}
}

func unaryName(typ op.OpType, dt tensor.DataType) string {
	return fmt.Sprintf("%s_CPU_%s", typ, dt)
}
