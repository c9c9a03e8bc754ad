package dnn

import (
	"fmt"
	"math"
)

func activate(mode ActivationMode, v float32) float32 {
	switch mode {
	case ActivationRelu:
		return max(v, 0)
	case ActivationSigmoid:
		return float32(1 / (1 + math.Exp(-float64(v))))
	default:
		return v
	}
}

// AddTensor computes c = alpha*a + beta*c, broadcasting a over every axis
// where its dimension is 1.
func (h *Handle) AddTensor(alpha float32, a *TensorDescriptor, aData []float32, beta float32, c *TensorDescriptor, cData []float32) error {
	const call = "AddTensor"
	if err := h.enter(call); err != nil {
		return err
	}
	if err := a.usable(call); err != nil {
		return err
	}
	if err := c.usable(call); err != nil {
		return err
	}
	if len(a.dims) != len(c.dims) || a.dtype != DataFloat || c.dtype != DataFloat {
		return fmt.Errorf("%s: %v onto %v: %w", call, a.dims, c.dims, ErrBadParam)
	}
	for i := range a.dims {
		if a.dims[i] != 1 && a.dims[i] != c.dims[i] {
			return fmt.Errorf("%s: cannot broadcast %v onto %v: %w", call, a.dims, c.dims, ErrBadParam)
		}
	}
	if len(aData) < a.elements() || len(cData) < c.elements() {
		return fmt.Errorf("%s: buffers shorter than their descriptors: %w", call, ErrBadParam)
	}

	// Broadcast strides of a are 0 on expanded axes.
	rank := len(c.dims)
	stride := make([]int, rank)
	acc := 1
	for i := rank - 1; i >= 0; i-- {
		if a.dims[i] != 1 {
			stride[i] = acc
		}
		acc *= a.dims[i]
	}

	idx := make([]int, rank)
	for i := range c.elements() {
		off := 0
		for d := range rank {
			off += idx[d] * stride[d]
		}
		cData[i] = alpha*aData[off] + beta*cData[i]
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < c.dims[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}

// ActivationForward computes y = alpha*act(x) + beta*y. x and y may alias.
func (h *Handle) ActivationForward(act *ActivationDescriptor, alpha float32, x *TensorDescriptor, xData []float32, beta float32, y *TensorDescriptor, yData []float32) error {
	const call = "ActivationForward"
	if err := h.enter(call); err != nil {
		return err
	}
	if err := sameShape(call, x, y); err != nil {
		return err
	}
	if err := act.usable(call); err != nil {
		return err
	}
	n := x.elements()
	if len(xData) < n || len(yData) < n {
		return fmt.Errorf("%s: buffers shorter than their descriptors: %w", call, ErrBadParam)
	}
	for i := range n {
		store(yData, i, alpha, beta, activate(act.mode, xData[i]))
	}
	return nil
}

func sameShape(call string, x, y *TensorDescriptor) error {
	if err := x.usable(call); err != nil {
		return err
	}
	if err := y.usable(call); err != nil {
		return err
	}
	if x.elements() != y.elements() || x.dtype != y.dtype {
		return fmt.Errorf("%s: %v %s vs %v %s: %w", call, x.dims, x.dtype, y.dims, y.dtype, ErrBadParam)
	}
	return nil
}

var trigonFuncs = [...]func(float64) float64{
	TrigonSin:   math.Sin,
	TrigonCos:   math.Cos,
	TrigonTan:   math.Tan,
	TrigonAsin:  math.Asin,
	TrigonAcos:  math.Acos,
	TrigonAtan:  math.Atan,
	TrigonSinh:  math.Sinh,
	TrigonCosh:  math.Cosh,
	TrigonTanh:  math.Tanh,
	TrigonAsinh: math.Asinh,
	TrigonAcosh: math.Acosh,
	TrigonAtanh: math.Atanh,
}

// TrigonForward applies the descriptor's function to x, writing y.
// Only float tensors are supported. Both preferences evaluate in double
// precision on the host.
func (h *Handle) TrigonForward(t *TrigonDescriptor, x *TensorDescriptor, xData []float32, y *TensorDescriptor, yData []float32) error {
	const call = "TrigonForward"
	if err := h.enter(call); err != nil {
		return err
	}
	if err := t.usable(call); err != nil {
		return err
	}
	if err := sameShape(call, x, y); err != nil {
		return err
	}
	if x.dtype != DataFloat {
		return fmt.Errorf("%s: data type %s: %w", call, x.dtype, ErrNotSupported)
	}
	n := x.elements()
	if len(xData) < n || len(yData) < n {
		return fmt.Errorf("%s: buffers shorter than their descriptors: %w", call, ErrBadParam)
	}
	fn := trigonFuncs[t.mode]
	for i := range n {
		yData[i] = float32(fn(float64(xData[i])))
	}
	return nil
}
