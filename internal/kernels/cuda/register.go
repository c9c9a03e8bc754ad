package cuda

import (
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// Register adds the CUDA kernels to r and makes their records decodable.
func Register(r *kernel.Registry) error {
	kernel.RegisterRecord(ConvRecordKind, func() kernel.PerfRecord { return &ConvRecord{} })
	return r.Register(kernel.Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32}, NewConv(), ConvName)
}
