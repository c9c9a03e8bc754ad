// Package cuda holds the kernels of CUDA-class devices, built on the
// device's DNN library handle.
package cuda

import (
	"errors"
	"fmt"
	"slices"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/dnn"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tune"
)

// ConvName is the display name of the convolution kernel.
const ConvName = "Conv_cuDNN_CUDA_Float32"

// ConvRecordKind is the record kind of the convolution kernel.
const ConvRecordKind = "cuda.conv"

// defaultConvWorkspace is what the untuned record asks for up front.
const defaultConvWorkspace = 100000

// ConvRecord is a tuned configuration of the convolution kernel.
type ConvRecord struct {
	Algo          dnn.ConvAlgo `json:"algo"`
	Mode          dnn.ConvMode `json:"mode"`
	WorkspaceSize int          `json:"workspace_size"`
	FuseAct       bool         `json:"fuse_act"`
	TimeMs        float64      `json:"time_ms"`
}

func (r *ConvRecord) Kind() string        { return ConvRecordKind }
func (r *ConvRecord) Time() float64       { return r.TimeMs }
func (r *ConvRecord) WorkspaceBytes() int { return r.WorkspaceSize }

func (r *ConvRecord) String() string {
	return fmt.Sprintf("algo=%s mode=%s workspace=%d fused=%t", r.Algo, r.Mode, r.WorkspaceSize, r.FuseAct)
}

// DefaultConvRecord is implicit GEMM in cross-correlation mode, unfused.
func DefaultConvRecord() *ConvRecord {
	return &ConvRecord{
		Algo:          dnn.AlgoImplicitGemm,
		Mode:          dnn.ModeCrossCorrelation,
		WorkspaceSize: defaultConvWorkspace,
		TimeMs:        tune.Unmeasured,
	}
}

// Conv is the Float32 convolution on the DNN library.
type Conv struct{}

// NewConv returns the convolution kernel.
func NewConv() *Conv { return &Conv{} }

func (k *Conv) DefaultRecord() kernel.PerfRecord { return DefaultConvRecord() }

func (k *Conv) Compute(o op.Operator, dc device.Context) error {
	return k.ComputeWith(o, DefaultConvRecord(), dc)
}

func (k *Conv) ComputeWith(o op.Operator, rec kernel.PerfRecord, dc device.Context) error {
	r := kernel.RecordAs[*ConvRecord](rec)
	conv, h, err := unpack(o, dc)
	if err != nil {
		return err
	}
	return kernel.Classify("Conv", run(h, conv, r, dc))
}

// Tune tries every algorithm, mode and, when the operator has a bias,
// fused variant. Descriptors live for one trial.
func (k *Conv) Tune(o op.Operator, dc device.Context) (kernel.PerfRecord, error) {
	conv, h, err := unpack(o, dc)
	if err != nil {
		return nil, err
	}

	axes := tune.Axes{Algos: dnn.NumConvAlgos, Modes: dnn.NumConvModes, Fusion: conv.Bias() != nil}
	res := tune.Search(ConvName, axes.Candidates(), func(c tune.Candidate) (tune.Measurement, error) {
		rec := &ConvRecord{Algo: dnn.ConvAlgo(c.Algo), Mode: dnn.ConvMode(c.Mode), FuseAct: c.Fused}
		if c.Fused && rec.Algo != dnn.AlgoImplicitPrecompGemm {
			return tune.Measurement{}, fmt.Errorf("fused %s: %w", rec.Algo, dnn.ErrNotSupported)
		}
		need, err := requiredWorkspace(h, conv, rec)
		if err != nil {
			return tune.Measurement{}, err
		}
		rec.WorkspaceSize = need
		ms, err := tune.Timeit(func() error { return run(h, conv, rec, dc) }, dc.Sync, dc.TuneOptions())
		return tune.Measurement{TimeMs: ms, WorkspaceBytes: need}, err
	}, dc.Observer())

	if !res.Found {
		return DefaultConvRecord(), nil
	}
	return &ConvRecord{
		Algo:          dnn.ConvAlgo(res.Best.Algo),
		Mode:          dnn.ConvMode(res.Best.Mode),
		WorkspaceSize: res.WorkspaceBytes,
		FuseAct:       res.Best.Fused,
		TimeMs:        res.TimeMs,
	}, nil
}

func unpack(o op.Operator, dc device.Context) (*op.ConvOp, *dnn.Handle, error) {
	conv, ok := o.(*op.ConvOp)
	if !ok {
		return nil, nil, kernel.Errorf(kernel.KindConfig, "Conv", "operator %s is not a convolution", o.Type())
	}
	ac, ok := dc.(device.DNNContext)
	if !ok {
		return nil, nil, kernel.Errorf(kernel.KindConfig, "Conv", "context %s has no DNN handle", dc.Name())
	}
	return conv, ac.DNN(), nil
}

// convDescriptors are the library descriptors of one call.
type convDescriptors struct {
	x, y, bias *dnn.TensorDescriptor
	w          *dnn.FilterDescriptor
	conv       *dnn.ConvolutionDescriptor
	act        *dnn.ActivationDescriptor
}

func (d *convDescriptors) destroy() {
	for _, t := range []*dnn.TensorDescriptor{d.x, d.y, d.bias} {
		if t != nil {
			t.Destroy()
		}
	}
	if d.w != nil {
		d.w.Destroy()
	}
	if d.conv != nil {
		d.conv.Destroy()
	}
	if d.act != nil {
		d.act.Destroy()
	}
}

// describe creates and sets every descriptor the operator needs. The
// caller destroys them, also on error.
func describe(h *dnn.Handle, o *op.ConvOp, mode dnn.ConvMode, d *convDescriptors) error {
	n, c, ih, iw, f, r, s := o.NCHWFRS()
	ph, pw, sh, sw, dh, dw := o.PadStrideDilation()
	out := o.Output().Dims()

	var err error
	if d.x, err = h.CreateTensorDescriptor(); err != nil {
		return err
	}
	if err = d.x.Set4d(dnn.DataFloat, n, c, ih, iw); err != nil {
		return err
	}
	if d.w, err = h.CreateFilterDescriptor(); err != nil {
		return err
	}
	if err = d.w.Set4d(dnn.DataFloat, f, o.ChannelPerGroup(), r, s); err != nil {
		return err
	}
	if d.conv, err = h.CreateConvolutionDescriptor(); err != nil {
		return err
	}
	if err = d.conv.Set2d(ph, pw, sh, sw, dh, dw, mode, dnn.DataFloat); err != nil {
		return err
	}
	if err = d.conv.SetGroupCount(o.Groups()); err != nil {
		return err
	}

	on, oc, oh, ow, err := h.ConvolutionForwardOutputDim(d.conv, d.x, d.w)
	if err != nil {
		return err
	}
	if got := []int{on, oc, oh, ow}; !slices.Equal(got, out) {
		return kernel.Errorf(kernel.KindShapeMismatch, "Conv", "library output %v, operator output %v", got, out)
	}
	if d.y, err = h.CreateTensorDescriptor(); err != nil {
		return err
	}
	if err = d.y.Set4d(dnn.DataFloat, on, oc, oh, ow); err != nil {
		return err
	}

	if o.Bias() != nil {
		if d.bias, err = h.CreateTensorDescriptor(); err != nil {
			return err
		}
		if err = d.bias.Set4d(dnn.DataFloat, 1, f, 1, 1); err != nil {
			return err
		}
	}
	if o.Act() != op.ActNone {
		if d.act, err = h.CreateActivationDescriptor(); err != nil {
			return err
		}
		if err = d.act.Set(activation(o.Act())); err != nil {
			return err
		}
	}
	return nil
}

func activation(a op.ActType) dnn.ActivationMode {
	switch a {
	case op.ActRelu:
		return dnn.ActivationRelu
	case op.ActSigmoid:
		return dnn.ActivationSigmoid
	default:
		return dnn.ActivationIdentity
	}
}

// filterBytes is the 8-byte aligned size of the flipped filter kept at the
// front of the workspace in convolution mode.
func filterBytes(o *op.ConvOp, mode dnn.ConvMode) int {
	if mode != dnn.ModeConvolution {
		return 0
	}
	return (o.Input(1).ByteSize() + 7) &^ 7
}

// requiredWorkspace is the workspace rec needs on o, queried from the library.
func requiredWorkspace(h *dnn.Handle, o *op.ConvOp, rec *ConvRecord) (int, error) {
	var d convDescriptors
	defer d.destroy()
	if err := describe(h, o, rec.Mode, &d); err != nil {
		return 0, err
	}
	algo, err := h.ConvolutionForwardWorkspaceSize(d.x, d.w, d.conv, d.y, rec.Algo)
	if err != nil {
		return 0, err
	}
	return filterBytes(o, rec.Mode) + algo, nil
}

// run executes o with rec. The workspace is grown to the larger of the
// record's size and what the library asks for.
func run(h *dnn.Handle, o *op.ConvOp, rec *ConvRecord, dc device.Context) error {
	var d convDescriptors
	defer d.destroy()
	if err := describe(h, o, rec.Mode, &d); err != nil {
		return err
	}

	algoBytes, err := h.ConvolutionForwardWorkspaceSize(d.x, d.w, d.conv, d.y, rec.Algo)
	if err != nil {
		return err
	}
	flip := filterBytes(o, rec.Mode)
	ws, err := device.HostWorkspace(dc, max(rec.WorkspaceSize, flip+algoBytes))
	if err != nil {
		return err
	}

	x, w, y := o.Input(0).AsFloat32(), o.Input(1).AsFloat32(), o.Output().AsFloat32()
	if flip > 0 {
		// The library flips the filter in convolution mode; flipping it
		// back keeps the result a cross-correlation.
		flipped := ws.Float32s(len(w))
		_, _, _, _, _, r, s := o.NCHWFRS()
		flipFilter(flipped, w, r, s)
		w = flipped
	}
	scratch := ws.Bytes()[flip:]

	bias := o.Bias()
	if rec.FuseAct && bias != nil {
		act := d.act
		if act == nil {
			if act, err = h.CreateActivationDescriptor(); err != nil {
				return err
			}
			defer act.Destroy()
		}
		err = h.ConvolutionBiasActivationForward(1, d.x, x, d.w, w, d.conv, rec.Algo, scratch,
			d.bias, bias.AsFloat32(), act, d.y, y)
		if !errors.Is(err, dnn.ErrNotSupported) {
			return err
		}
	}

	if err := h.ConvolutionForward(1, d.x, x, d.w, w, d.conv, rec.Algo, scratch, 0, d.y, y); err != nil {
		return err
	}
	if bias != nil {
		if err := h.AddTensor(1, d.bias, bias.AsFloat32(), 1, d.y, y); err != nil {
			return err
		}
	}
	if d.act != nil {
		if err := h.ActivationForward(d.act, 1, d.y, y, 0, d.y, y); err != nil {
			return err
		}
	}
	return nil
}

// flipFilter reverses every r x s plane of src into dst.
func flipFilter(dst, src []float32, r, s int) {
	plane := r * s
	for base := 0; base < len(src); base += plane {
		for i := range plane {
			dst[base+i] = src[base+plane-1-i]
		}
	}
}
