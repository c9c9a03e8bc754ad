package op

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/tensor"
)

// PaddingMode selects how ConvOp derives its padding.
type PaddingMode int

// Padding modes.
const (
	// PaddingExplicit uses the pads given at construction.
	PaddingExplicit PaddingMode = iota
	// PaddingSame pads so the output is ceil(input / stride).
	PaddingSame
	// PaddingValid uses no padding.
	PaddingValid
)

// ConvParams are the per-axis convolution parameters.
type ConvParams struct {
	PadH, PadW           int
	StrideH, StrideW     int
	DilationH, DilationW int
	Act                  ActType
}

// DefaultConvParams is stride 1, dilation 1 and no padding.
func DefaultConvParams() ConvParams {
	return ConvParams{StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1}
}

// Validate checks strides and dilations are positive and pads non-negative.
func (p ConvParams) Validate() error {
	if p.StrideH <= 0 || p.StrideW <= 0 {
		return fmt.Errorf("conv: invalid stride (%d, %d)", p.StrideH, p.StrideW)
	}
	if p.DilationH <= 0 || p.DilationW <= 0 {
		return fmt.Errorf("conv: invalid dilation (%d, %d)", p.DilationH, p.DilationW)
	}
	if p.PadH < 0 || p.PadW < 0 {
		return fmt.Errorf("conv: invalid padding (%d, %d)", p.PadH, p.PadW)
	}
	return nil
}

// ConvOp is a 2D convolution (cross-correlation) over NCHW input and FCRS weights,
// with an optional bias of shape [F] and an optional activation.
type ConvOp struct {
	base
	params  ConvParams
	padding PaddingMode
}

// NewConv builds a convolution with explicit padding and allocates its output on device.
func NewConv(input, weight, bias *tensor.RawTensor, p ConvParams) (*ConvOp, error) {
	return newConv(input, weight, bias, p, PaddingExplicit)
}

// NewConvWithPadding builds a convolution whose padding is derived from mode.
// The pads in p are ignored unless mode is PaddingExplicit.
func NewConvWithPadding(input, weight, bias *tensor.RawTensor, mode PaddingMode, p ConvParams) (*ConvOp, error) {
	return newConv(input, weight, bias, p, mode)
}

func newConv(input, weight, bias *tensor.RawTensor, p ConvParams, mode PaddingMode) (*ConvOp, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	in, kn := input.Shape(), weight.Shape()
	if len(in) != 4 {
		return nil, fmt.Errorf("conv: input must be 4D [N,C,H,W], got %dD", len(in))
	}
	if len(kn) != 4 {
		return nil, fmt.Errorf("conv: weight must be 4D [F,C/g,R,S], got %dD", len(kn))
	}
	if input.DType() != weight.DType() {
		return nil, fmt.Errorf("conv: input dtype %s != weight dtype %s", input.DType(), weight.DType())
	}
	c, f, cpg := in[1], kn[0], kn[1]
	if c%cpg != 0 {
		return nil, fmt.Errorf("conv: input channels %d not divisible by weight channels %d", c, cpg)
	}
	if g := c / cpg; f%g != 0 {
		return nil, fmt.Errorf("conv: output channels %d not divisible by groups %d", f, g)
	}

	inputs := []*tensor.RawTensor{input, weight}
	if bias != nil {
		if !bias.Shape().Equal(tensor.Shape{f}) {
			return nil, fmt.Errorf("conv: bias shape %v, want [%d]", bias.Shape(), f)
		}
		if bias.DType() != input.DType() {
			return nil, fmt.Errorf("conv: bias dtype %s != input dtype %s", bias.DType(), input.DType())
		}
		inputs = append(inputs, bias)
	}

	h, w, r, s := in[2], in[3], kn[2], kn[3]
	switch mode {
	case PaddingSame:
		p.PadH = samePad(h, r, p.StrideH, p.DilationH)
		p.PadW = samePad(w, s, p.StrideW, p.DilationW)
	case PaddingValid:
		p.PadH, p.PadW = 0, 0
	}

	oh := outputDim(h, r, p.PadH, p.StrideH, p.DilationH)
	ow := outputDim(w, s, p.PadW, p.StrideW, p.DilationW)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", oh, ow)
	}

	out, err := tensor.NewRaw(tensor.Shape{in[0], f, oh, ow}, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create output tensor: %w", err)
	}

	op := &ConvOp{base: newBase(Conv, inputs), params: p, padding: mode}
	op.output = out
	return op, nil
}

func outputDim(in, k, pad, stride, dilation int) int {
	effective := (k-1)*dilation + 1
	return (in+2*pad-effective)/stride + 1
}

func samePad(in, k, stride, dilation int) int {
	out := (in + stride - 1) / stride
	total := (out-1)*stride + (k-1)*dilation + 1 - in
	if total < 0 {
		return 0
	}
	return total / 2
}

// NCHWFRS returns input batch, channels, height, width, then filters and kernel height, width.
func (c *ConvOp) NCHWFRS() (n, ch, h, w, f, r, s int) {
	in, kn := c.inputs[0].Shape(), c.inputs[1].Shape()
	return in[0], in[1], in[2], in[3], kn[0], kn[2], kn[3]
}

// PadStrideDilation returns ph, pw, sh, sw, dh, dw.
func (c *ConvOp) PadStrideDilation() (ph, pw, sh, sw, dh, dw int) {
	p := c.params
	return p.PadH, p.PadW, p.StrideH, p.StrideW, p.DilationH, p.DilationW
}

// Params returns the resolved convolution parameters.
func (c *ConvOp) Params() ConvParams { return c.params }

// ChannelPerGroup is the weight's input channel count.
func (c *ConvOp) ChannelPerGroup() int { return c.inputs[1].Shape()[1] }

// Groups is input channels / channels per group.
func (c *ConvOp) Groups() int { return c.inputs[0].Shape()[1] / c.ChannelPerGroup() }

// Act is the activation applied after the convolution (and bias).
func (c *ConvOp) Act() ActType { return c.params.Act }

// Bias returns the bias input or nil.
func (c *ConvOp) Bias() *tensor.RawTensor {
	if len(c.inputs) > 2 {
		return c.inputs[2]
	}
	return nil
}

// Signature includes pads, strides, dilations and activation.
func (c *ConvOp) Signature() string {
	p := c.params
	return fmt.Sprintf("%s;pad=%d,%d;stride=%d,%d;dil=%d,%d;act=%s",
		c.shapeKey(), p.PadH, p.PadW, p.StrideH, p.StrideW, p.DilationH, p.DilationW, p.Act)
}
