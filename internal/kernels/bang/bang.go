// Package bang holds the kernels of Cambricon-class devices, built on the
// device's DNN library handle. None of them has a configuration space.
package bang

import (
	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/dnn"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// TransposeName is the display name of the transpose kernel.
const TransposeName = "Transpose_cnnl_BANG_Float32"

// trigon binds an operator kind to the library mode and precision
// preference that compute it.
type trigon struct {
	op     op.OpType
	mode   dnn.TrigonMode
	prefer dnn.ComputationPreference
	name   string
}

var trigons = []trigon{
	{op.Sin, dnn.TrigonSin, dnn.PreferHighPrecision, "Sin_cnnl_BANG_Float32"},
	{op.Cos, dnn.TrigonCos, dnn.PreferHighPrecision, "Cos_cnnl_BANG_Float32"},
	{op.Tan, dnn.TrigonTan, dnn.PreferHighPrecision, "Tan_cnnl_BANG_Float32"},
	{op.Asin, dnn.TrigonAsin, dnn.PreferHighPrecision, "ASin_cnnl_BANG_Float32"},
	{op.Acos, dnn.TrigonAcos, dnn.PreferHighPrecision, "ACos_cnnl_BANG_Float32"},
	{op.Atan, dnn.TrigonAtan, dnn.PreferHighPrecision, "ATan_cnnl_BANG_Float32"},
	{op.Sinh, dnn.TrigonSinh, dnn.PreferHighPrecision, "SinH_cnnl_BANG_Float32"},
	{op.Cosh, dnn.TrigonCosh, dnn.PreferHighPrecision, "CosH_cnnl_BANG_Float32"},
	{op.Tanh, dnn.TrigonTanh, dnn.PreferHighPrecision, "TanH_cnnl_BANG_Float32"},
	{op.Asinh, dnn.TrigonAsinh, dnn.PreferHighPrecision, "ASinH_cnnl_BANG_Float32"},
	{op.Acosh, dnn.TrigonAcosh, dnn.PreferHighPrecision, "ACosH_cnnl_BANG_Float32"},
	{op.Atanh, dnn.TrigonAtanh, dnn.PreferHighPrecision, "ATanH_cnnl_BANG_Float32"},
}

// Register adds the BANG kernels to r.
func Register(r *kernel.Registry) error {
	key := kernel.Key{Device: tensor.BANG, Op: op.Transpose, DType: tensor.Float32}
	if err := r.Register(key, kernel.WithoutConfig(TransposeName, transpose), TransposeName); err != nil {
		return err
	}
	for _, t := range trigons {
		key := kernel.Key{Device: tensor.BANG, Op: t.op, DType: tensor.Float32}
		if err := r.Register(key, kernel.WithoutConfig(t.name, t.compute), t.name); err != nil {
			return err
		}
	}
	return nil
}

func handle(name string, dc device.Context) (*dnn.Handle, error) {
	ac, ok := dc.(device.DNNContext)
	if !ok {
		return nil, kernel.Errorf(kernel.KindConfig, name, "context %s has no DNN handle", dc.Name())
	}
	return ac.DNN(), nil
}

// arrayDescriptor describes t as a dense float array.
func arrayDescriptor(h *dnn.Handle, t *tensor.RawTensor) (*dnn.TensorDescriptor, error) {
	d, err := h.CreateTensorDescriptor()
	if err != nil {
		return nil, err
	}
	if err := d.Set(dnn.LayoutArray, dnn.DataFloat, t.Dims()); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

func transpose(o op.Operator, dc device.Context) error {
	t, ok := o.(*op.TransposeOp)
	if !ok {
		return kernel.Errorf(kernel.KindConfig, "Transpose", "operator %s is not a transpose", o.Type())
	}
	h, err := handle("Transpose", dc)
	if err != nil {
		return err
	}
	return kernel.Classify("Transpose", runTranspose(h, t, dc))
}

func runTranspose(h *dnn.Handle, t *op.TransposeOp, dc device.Context) error {
	x, err := arrayDescriptor(h, t.Input(0))
	if err != nil {
		return err
	}
	defer x.Destroy()
	y, err := arrayDescriptor(h, t.Output())
	if err != nil {
		return err
	}
	defer y.Destroy()
	desc, err := h.CreateTransposeDescriptor()
	if err != nil {
		return err
	}
	defer desc.Destroy()
	if err := desc.Set(t.Permute()); err != nil {
		return err
	}

	size, err := h.TransposeWorkspaceSize(x, desc)
	if err != nil {
		return err
	}
	ws, err := device.HostWorkspace(dc, size)
	if err != nil {
		return err
	}
	return h.Transpose(desc, x, t.Input(0).Data(), y, t.Output().Data(), ws.Bytes())
}

func (t trigon) compute(o op.Operator, dc device.Context) error {
	name := t.op.String()
	if o.Type() != t.op {
		return kernel.Errorf(kernel.KindConfig, name, "operator %s passed to %s", o.Type(), t.name)
	}
	h, err := handle(name, dc)
	if err != nil {
		return err
	}
	return kernel.Classify(name, t.run(h, o))
}

func (t trigon) run(h *dnn.Handle, o op.Operator) error {
	x, err := arrayDescriptor(h, o.Input(0))
	if err != nil {
		return err
	}
	defer x.Destroy()
	y, err := arrayDescriptor(h, o.Output())
	if err != nil {
		return err
	}
	defer y.Destroy()
	desc, err := h.CreateTrigonDescriptor()
	if err != nil {
		return err
	}
	defer desc.Destroy()
	if err := desc.Set(t.mode, t.prefer); err != nil {
		return err
	}
	return h.TrigonForward(desc, x, o.Input(0).AsFloat32(), y, o.Output().AsFloat32())
}
