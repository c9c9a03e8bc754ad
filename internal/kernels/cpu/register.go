package cpu

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// transposeDTypes are the element types the host transpose is registered for.
var transposeDTypes = []tensor.DataType{
	tensor.Float32, tensor.Float64, tensor.Float16,
	tensor.Int32, tensor.Int64, tensor.UInt32,
}

// Register adds the host kernels to r and makes their records decodable.
func Register(r *kernel.Registry) error {
	kernel.RegisterRecord(ConvRecordKind, func() kernel.PerfRecord { return &ConvRecord{} })

	convs := []struct {
		dt tensor.DataType
		k  kernel.Kernel
	}{
		{tensor.Float32, NewConv[float32](convName(tensor.Float32))},
		{tensor.Float64, NewConv[float64](convName(tensor.Float64))},
		{tensor.UInt32, NewConv[uint32](convName(tensor.UInt32))},
	}
	for _, c := range convs {
		if err := r.Register(key(op.Conv, c.dt), c.k, convName(c.dt)); err != nil {
			return err
		}
	}

	for _, dt := range transposeDTypes {
		name := transposeName(dt)
		if err := r.Register(key(op.Transpose, dt), kernel.WithoutConfig(name, transpose), name); err != nil {
			return err
		}
	}

	for _, typ := range unaryOps() {
		for _, dt := range unaryDTypes {
			name := unaryName(typ, dt)
			if err := r.Register(key(typ, dt), kernel.WithoutConfig(name, unary(typ)), name); err != nil {
				return err
			}
		}
	}
	return nil
}

func key(typ op.OpType, dt tensor.DataType) kernel.Key {
	return kernel.Key{Device: tensor.CPU, Op: typ, DType: dt}
}

func convName(dt tensor.DataType) string {
	return fmt.Sprintf("Conv_CPU_%s", dt)
}
