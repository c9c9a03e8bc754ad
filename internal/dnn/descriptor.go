package dnn

import "fmt"

type descriptor struct {
	h         *Handle
	destroyed bool
}

func (h *Handle) track() descriptor {
	h.live.Add(1)
	return descriptor{h: h}
}

// Destroy releases the descriptor. Calling it twice is a no-op.
func (d *descriptor) Destroy() {
	if d == nil || d.h == nil || d.destroyed {
		return
	}
	d.destroyed = true
	d.h.live.Add(-1)
}

func (d *descriptor) usable(what string) error {
	if d.destroyed {
		return fmt.Errorf("%s: %w", what, ErrDestroyed)
	}
	return nil
}

// TensorDescriptor describes a dense tensor.
type TensorDescriptor struct {
	descriptor
	layout Layout
	dtype  DataType
	dims   []int
}

// CreateTensorDescriptor allocates an unset tensor descriptor.
func (h *Handle) CreateTensorDescriptor() (*TensorDescriptor, error) {
	if err := h.enter("CreateTensorDescriptor"); err != nil {
		return nil, err
	}
	return &TensorDescriptor{descriptor: h.track()}, nil
}

// Set4d declares an NCHW tensor.
func (t *TensorDescriptor) Set4d(dt DataType, n, c, h, w int) error {
	return t.Set(LayoutNCHW, dt, []int{n, c, h, w})
}

// Set declares a tensor of any rank.
func (t *TensorDescriptor) Set(layout Layout, dt DataType, dims []int) error {
	if err := t.usable("SetTensorDescriptor"); err != nil {
		return err
	}
	if len(dims) == 0 {
		return fmt.Errorf("SetTensorDescriptor: empty dims: %w", ErrBadParam)
	}
	for _, d := range dims {
		if d <= 0 {
			return fmt.Errorf("SetTensorDescriptor: dims %v: %w", dims, ErrBadParam)
		}
	}
	if layout == LayoutNCHW && len(dims) != 4 {
		return fmt.Errorf("SetTensorDescriptor: NCHW needs 4 dims, got %d: %w", len(dims), ErrBadParam)
	}
	t.layout, t.dtype, t.dims = layout, dt, append([]int(nil), dims...)
	return nil
}

// Dims returns the declared dimensions.
func (t *TensorDescriptor) Dims() []int { return t.dims }

func (t *TensorDescriptor) elements() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// FilterDescriptor describes convolution weights [F, C/g, R, S].
type FilterDescriptor struct {
	descriptor
	dtype      DataType
	f, c, r, s int
}

// CreateFilterDescriptor allocates an unset filter descriptor.
func (h *Handle) CreateFilterDescriptor() (*FilterDescriptor, error) {
	if err := h.enter("CreateFilterDescriptor"); err != nil {
		return nil, err
	}
	return &FilterDescriptor{descriptor: h.track()}, nil
}

// Set4d declares the filter dimensions.
func (f *FilterDescriptor) Set4d(dt DataType, k, c, r, s int) error {
	if err := f.usable("SetFilter4dDescriptor"); err != nil {
		return err
	}
	if k <= 0 || c <= 0 || r <= 0 || s <= 0 {
		return fmt.Errorf("SetFilter4dDescriptor: [%d %d %d %d]: %w", k, c, r, s, ErrBadParam)
	}
	f.dtype, f.f, f.c, f.r, f.s = dt, k, c, r, s
	return nil
}

// ConvMode selects between true convolution and cross-correlation.
type ConvMode int

// Convolution modes.
const (
	// ModeConvolution flips the filter spatially.
	ModeConvolution ConvMode = iota
	// ModeCrossCorrelation applies the filter as stored.
	ModeCrossCorrelation
)

// NumConvModes is the number of convolution modes.
const NumConvModes = 2

func (m ConvMode) String() string {
	if m == ModeConvolution {
		return "Convolution"
	}
	return "CrossCorrelation"
}

// ConvolutionDescriptor holds padding, stride, dilation, mode and groups.
type ConvolutionDescriptor struct {
	descriptor
	ph, pw, sh, sw, dh, dw int
	mode                   ConvMode
	dtype                  DataType
	groups                 int
	set                    bool
}

// CreateConvolutionDescriptor allocates an unset convolution descriptor.
func (h *Handle) CreateConvolutionDescriptor() (*ConvolutionDescriptor, error) {
	if err := h.enter("CreateConvolutionDescriptor"); err != nil {
		return nil, err
	}
	return &ConvolutionDescriptor{descriptor: h.track(), groups: 1}, nil
}

// Set2d declares a 2D convolution.
func (c *ConvolutionDescriptor) Set2d(ph, pw, sh, sw, dh, dw int, mode ConvMode, dt DataType) error {
	if err := c.usable("SetConvolution2dDescriptor"); err != nil {
		return err
	}
	if ph < 0 || pw < 0 || sh <= 0 || sw <= 0 || dh <= 0 || dw <= 0 {
		return fmt.Errorf("SetConvolution2dDescriptor: pad (%d,%d) stride (%d,%d) dilation (%d,%d): %w",
			ph, pw, sh, sw, dh, dw, ErrBadParam)
	}
	if mode != ModeConvolution && mode != ModeCrossCorrelation {
		return fmt.Errorf("SetConvolution2dDescriptor: mode %d: %w", mode, ErrBadParam)
	}
	c.ph, c.pw, c.sh, c.sw, c.dh, c.dw = ph, pw, sh, sw, dh, dw
	c.mode, c.dtype, c.set = mode, dt, true
	return nil
}

// SetGroupCount declares grouped convolution.
func (c *ConvolutionDescriptor) SetGroupCount(g int) error {
	if err := c.usable("SetConvolutionGroupCount"); err != nil {
		return err
	}
	if g <= 0 {
		return fmt.Errorf("SetConvolutionGroupCount: %d: %w", g, ErrBadParam)
	}
	c.groups = g
	return nil
}

// ActivationMode is the function an activation descriptor applies.
type ActivationMode int

// Activation modes.
const (
	ActivationIdentity ActivationMode = iota
	ActivationRelu
	ActivationSigmoid
)

// ActivationDescriptor selects an activation.
type ActivationDescriptor struct {
	descriptor
	mode ActivationMode
}

// CreateActivationDescriptor allocates an identity activation descriptor.
func (h *Handle) CreateActivationDescriptor() (*ActivationDescriptor, error) {
	if err := h.enter("CreateActivationDescriptor"); err != nil {
		return nil, err
	}
	return &ActivationDescriptor{descriptor: h.track()}, nil
}

// Set selects the activation.
func (a *ActivationDescriptor) Set(mode ActivationMode) error {
	if err := a.usable("SetActivationDescriptor"); err != nil {
		return err
	}
	if mode < ActivationIdentity || mode > ActivationSigmoid {
		return fmt.Errorf("SetActivationDescriptor: mode %d: %w", mode, ErrBadParam)
	}
	a.mode = mode
	return nil
}

// TransposeDescriptor holds a permutation.
type TransposeDescriptor struct {
	descriptor
	perm []int
}

// CreateTransposeDescriptor allocates an unset transpose descriptor.
func (h *Handle) CreateTransposeDescriptor() (*TransposeDescriptor, error) {
	if err := h.enter("CreateTransposeDescriptor"); err != nil {
		return nil, err
	}
	return &TransposeDescriptor{descriptor: h.track()}, nil
}

// Set declares the permutation; perm[i] is the input axis of output axis i.
func (t *TransposeDescriptor) Set(perm []int) error {
	if err := t.usable("SetTransposeDescriptor"); err != nil {
		return err
	}
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return fmt.Errorf("SetTransposeDescriptor: %v is not a permutation: %w", perm, ErrBadParam)
		}
		seen[p] = true
	}
	t.perm = append([]int(nil), perm...)
	return nil
}

// TrigonMode selects the trigonometric function.
type TrigonMode int

// Trigonometric functions.
const (
	TrigonSin TrigonMode = iota
	TrigonCos
	TrigonTan
	TrigonAsin
	TrigonAcos
	TrigonAtan
	TrigonSinh
	TrigonCosh
	TrigonTanh
	TrigonAsinh
	TrigonAcosh
	TrigonAtanh
)

// ComputationPreference trades precision for speed.
type ComputationPreference int

// Preferences.
const (
	PreferHighPrecision ComputationPreference = iota
	PreferFast
)

// TrigonDescriptor selects a trigonometric function and precision.
type TrigonDescriptor struct {
	descriptor
	mode   TrigonMode
	prefer ComputationPreference
}

// CreateTrigonDescriptor allocates a sine descriptor.
func (h *Handle) CreateTrigonDescriptor() (*TrigonDescriptor, error) {
	if err := h.enter("CreateTrigonDescriptor"); err != nil {
		return nil, err
	}
	return &TrigonDescriptor{descriptor: h.track()}, nil
}

// Set selects the function and preference.
func (t *TrigonDescriptor) Set(mode TrigonMode, prefer ComputationPreference) error {
	if err := t.usable("SetTrigonDescriptor"); err != nil {
		return err
	}
	if mode < TrigonSin || mode > TrigonAtanh {
		return fmt.Errorf("SetTrigonDescriptor: mode %d: %w", mode, ErrBadParam)
	}
	if prefer != PreferHighPrecision && prefer != PreferFast {
		return fmt.Errorf("SetTrigonDescriptor: preference %d: %w", prefer, ErrBadParam)
	}
	t.mode, t.prefer = mode, prefer
	return nil
}
