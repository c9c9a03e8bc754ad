package dnn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ConvAlgo is a forward convolution algorithm.
type ConvAlgo int

// Forward algorithms, in the order the library enumerates them.
const (
	AlgoImplicitGemm ConvAlgo = iota
	AlgoImplicitPrecompGemm
	AlgoGemm
	AlgoDirect
	AlgoFFT
	AlgoFFTTiling
	AlgoWinograd
	AlgoWinogradNonfused
)

// NumConvAlgos is the number of forward algorithms.
const NumConvAlgos = 8

// emulatedAlgos are the algorithms the host emulation implements.
const emulatedAlgos = 1<<AlgoImplicitGemm | 1<<AlgoImplicitPrecompGemm | 1<<AlgoGemm | 1<<AlgoWinograd

var convAlgoNames = [NumConvAlgos]string{
	"IMPLICIT_GEMM", "IMPLICIT_PRECOMP_GEMM", "GEMM", "DIRECT",
	"FFT", "FFT_TILING", "WINOGRAD", "WINOGRAD_NONFUSED",
}

func (a ConvAlgo) String() string {
	if a >= 0 && int(a) < NumConvAlgos {
		return convAlgoNames[a]
	}
	return fmt.Sprintf("ConvAlgo(%d)", int(a))
}

// convGeom is the resolved problem of one forward call.
type convGeom struct {
	n, c, h, w             int
	f, cpg, r, s           int
	groups                 int
	ph, pw, sh, sw, dh, dw int
	oh, ow                 int
	flip                   bool
}

func (g *convGeom) filtersPerGroup() int { return g.f / g.groups }
func (g *convGeom) k() int               { return g.cpg * g.r * g.s }
func (g *convGeom) p() int               { return g.oh * g.ow }

// tap returns the offset of filter tap (i, j) within one [R, S] plane.
func (g *convGeom) tap(i, j int) int {
	if g.flip {
		return (g.r-1-i)*g.s + (g.s - 1 - j)
	}
	return i*g.s + j
}

func geometry(call string, x *TensorDescriptor, w *FilterDescriptor, conv *ConvolutionDescriptor) (convGeom, error) {
	for _, d := range []*descriptor{&x.descriptor, &w.descriptor, &conv.descriptor} {
		if err := d.usable(call); err != nil {
			return convGeom{}, err
		}
	}
	if len(x.dims) != 4 || w.f == 0 || !conv.set {
		return convGeom{}, fmt.Errorf("%s: descriptor not set: %w", call, ErrBadParam)
	}
	if x.dtype != conv.dtype || w.dtype != conv.dtype {
		return convGeom{}, fmt.Errorf("%s: mixed data types %s/%s/%s: %w", call, x.dtype, w.dtype, conv.dtype, ErrBadParam)
	}
	if conv.dtype != DataFloat {
		return convGeom{}, fmt.Errorf("%s: data type %s: %w", call, conv.dtype, ErrNotSupported)
	}

	var g convGeom
	g.n, g.c, g.h, g.w = x.dims[0], x.dims[1], x.dims[2], x.dims[3]
	g.f, g.cpg, g.r, g.s = w.f, w.c, w.r, w.s
	g.ph, g.pw, g.sh, g.sw, g.dh, g.dw = conv.ph, conv.pw, conv.sh, conv.sw, conv.dh, conv.dw
	g.groups = conv.groups
	g.flip = conv.mode == ModeConvolution
	if g.cpg*g.groups != g.c || g.f%g.groups != 0 {
		return convGeom{}, fmt.Errorf("%s: %d channels, %d per group, %d groups, %d filters: %w",
			call, g.c, g.cpg, g.groups, g.f, ErrBadParam)
	}
	g.oh = (g.h+2*g.ph-((g.r-1)*g.dh+1))/g.sh + 1
	g.ow = (g.w+2*g.pw-((g.s-1)*g.dw+1))/g.sw + 1
	if g.oh <= 0 || g.ow <= 0 {
		return convGeom{}, fmt.Errorf("%s: empty output %dx%d: %w", call, g.oh, g.ow, ErrBadParam)
	}
	return g, nil
}

// ConvolutionForwardOutputDim returns the output dimensions of a forward convolution.
func (h *Handle) ConvolutionForwardOutputDim(conv *ConvolutionDescriptor, x *TensorDescriptor, w *FilterDescriptor) (n, c, oh, ow int, err error) {
	if err := h.enter("GetConvolution2dForwardOutputDim"); err != nil {
		return 0, 0, 0, 0, err
	}
	g, err := geometry("GetConvolution2dForwardOutputDim", x, w, conv)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return g.n, g.f, g.oh, g.ow, nil
}

// ConvolutionForwardWorkspaceSize returns the scratch bytes algo needs, or
// ErrNotSupported when the algorithm cannot run this problem.
func (h *Handle) ConvolutionForwardWorkspaceSize(x *TensorDescriptor, w *FilterDescriptor, conv *ConvolutionDescriptor, y *TensorDescriptor, algo ConvAlgo) (int, error) {
	const call = "GetConvolutionForwardWorkspaceSize"
	if err := h.enter(call); err != nil {
		return 0, err
	}
	g, err := h.forwardProblem(call, x, w, conv, y, algo)
	if err != nil {
		return 0, err
	}
	return workspaceSize(g, algo), nil
}

func (h *Handle) forwardProblem(call string, x *TensorDescriptor, w *FilterDescriptor, conv *ConvolutionDescriptor, y *TensorDescriptor, algo ConvAlgo) (convGeom, error) {
	g, err := geometry(call, x, w, conv)
	if err != nil {
		return convGeom{}, err
	}
	if err := y.usable(call); err != nil {
		return convGeom{}, err
	}
	if len(y.dims) != 4 || y.dims[0] != g.n || y.dims[1] != g.f || y.dims[2] != g.oh || y.dims[3] != g.ow {
		return convGeom{}, fmt.Errorf("%s: output %v, want [%d %d %d %d]: %w", call, y.dims, g.n, g.f, g.oh, g.ow, ErrBadParam)
	}
	if algo < 0 || int(algo) >= NumConvAlgos || !h.algoEnabled(algo) {
		return convGeom{}, fmt.Errorf("%s: algorithm %s: %w", call, algo, ErrNotSupported)
	}
	if algo == AlgoWinograd && !winogradApplies(g) {
		return convGeom{}, fmt.Errorf("%s: winograd needs 3x3, stride 1, dilation 1, one group: %w", call, ErrNotSupported)
	}
	return g, nil
}

func workspaceSize(g convGeom, algo ConvAlgo) int {
	switch algo {
	case AlgoImplicitPrecompGemm:
		// int32 input offset per (k, p)
		return g.k() * g.p() * 4
	case AlgoGemm:
		// im2col column matrix of one group
		return g.k() * g.p() * 4
	case AlgoWinograd:
		// transformed filters U[f][c][4][4]
		return g.f * g.c * 16 * 4
	default:
		return 0
	}
}

// ConvolutionForward computes y = alpha*conv(x, w) + beta*y with algo.
func (h *Handle) ConvolutionForward(alpha float32, x *TensorDescriptor, xData []float32,
	w *FilterDescriptor, wData []float32, conv *ConvolutionDescriptor, algo ConvAlgo,
	ws []byte, beta float32, y *TensorDescriptor, yData []float32,
) error {
	const call = "ConvolutionForward"
	if err := h.enter(call); err != nil {
		return err
	}
	g, err := h.forwardProblem(call, x, w, conv, y, algo)
	if err != nil {
		return err
	}
	if err := checkBuffers(call, g, xData, wData, yData, ws, workspaceSize(g, algo)); err != nil {
		return err
	}

	switch algo {
	case AlgoImplicitGemm:
		implicitGemm(g, alpha, xData, wData, beta, yData)
	case AlgoImplicitPrecompGemm:
		implicitPrecompGemm(g, alpha, xData, wData, beta, yData, asInt32s(ws, g.k()*g.p()))
	case AlgoGemm:
		gemm(g, alpha, xData, wData, beta, yData, asFloat32s(ws, g.k()*g.p()))
	case AlgoWinograd:
		winograd(g, alpha, xData, wData, beta, yData, asFloat32s(ws, g.f*g.c*16))
	default:
		return fmt.Errorf("%s: algorithm %s: %w", call, algo, ErrNotSupported)
	}
	return nil
}

// ConvolutionBiasActivationForward computes y = act(alpha*conv(x, w) + bias).
// Only AlgoImplicitPrecompGemm is supported.
func (h *Handle) ConvolutionBiasActivationForward(alpha float32, x *TensorDescriptor, xData []float32,
	w *FilterDescriptor, wData []float32, conv *ConvolutionDescriptor, algo ConvAlgo, ws []byte,
	bias *TensorDescriptor, biasData []float32, act *ActivationDescriptor,
	y *TensorDescriptor, yData []float32,
) error {
	const call = "ConvolutionBiasActivationForward"
	if err := h.enter(call); err != nil {
		return err
	}
	if algo != AlgoImplicitPrecompGemm {
		return fmt.Errorf("%s: algorithm %s: %w", call, algo, ErrNotSupported)
	}
	g, err := h.forwardProblem(call, x, w, conv, y, algo)
	if err != nil {
		return err
	}
	if err := checkBuffers(call, g, xData, wData, yData, ws, workspaceSize(g, algo)); err != nil {
		return err
	}
	if err := act.usable(call); err != nil {
		return err
	}
	if err := checkBias(call, bias, biasData, g.f); err != nil {
		return err
	}

	implicitPrecompGemm(g, alpha, xData, wData, 0, yData, asInt32s(ws, g.k()*g.p()))
	plane := g.p()
	for n := range g.n {
		for f := range g.f {
			out := yData[(n*g.f+f)*plane : (n*g.f+f+1)*plane]
			for i := range out {
				out[i] = activate(act.mode, out[i]+biasData[f])
			}
		}
	}
	return nil
}

func checkBias(call string, bias *TensorDescriptor, data []float32, f int) error {
	if err := bias.usable(call); err != nil {
		return err
	}
	if bias.elements() != f || len(data) < f {
		return fmt.Errorf("%s: bias %v for %d filters: %w", call, bias.dims, f, ErrBadParam)
	}
	return nil
}

func checkBuffers(call string, g convGeom, x, w, y []float32, ws []byte, need int) error {
	if len(x) < g.n*g.c*g.h*g.w || len(w) < g.f*g.k() || len(y) < g.n*g.f*g.p() {
		return fmt.Errorf("%s: buffers shorter than their descriptors: %w", call, ErrBadParam)
	}
	if len(ws) < need {
		return fmt.Errorf("%s: workspace %d bytes, need %d: %w", call, len(ws), need, ErrBadParam)
	}
	return nil
}

func store(y []float32, i int, alpha, beta, acc float32) {
	if beta == 0 {
		y[i] = alpha * acc
		return
	}
	y[i] = alpha*acc + beta*y[i]
}

// implicitGemm walks every tap of every output without scratch memory.
func implicitGemm(g convGeom, alpha float32, x, w []float32, beta float32, y []float32) {
	fpg, rs := g.filtersPerGroup(), g.r*g.s
	for n := range g.n {
		for f := range g.f {
			c0 := f / fpg * g.cpg
			wf := w[f*g.k():]
			for oy := range g.oh {
				for ox := range g.ow {
					var acc float32
					for ci := range g.cpg {
						plane := x[((n*g.c+c0+ci)*g.h)*g.w:]
						for i := range g.r {
							iy := oy*g.sh - g.ph + i*g.dh
							if iy < 0 || iy >= g.h {
								continue
							}
							for j := range g.s {
								ix := ox*g.sw - g.pw + j*g.dw
								if ix < 0 || ix >= g.w {
									continue
								}
								acc += plane[iy*g.w+ix] * wf[ci*rs+g.tap(i, j)]
							}
						}
					}
					store(y, ((n*g.f+f)*g.oh+oy)*g.ow+ox, alpha, beta, acc)
				}
			}
		}
	}
}

// implicitPrecompGemm precomputes the input offset of every (k, p) pair
// relative to the group's first channel; -1 marks padding.
func implicitPrecompGemm(g convGeom, alpha float32, x, w []float32, beta float32, y []float32, table []int32) {
	k, p, rs := g.k(), g.p(), g.r*g.s
	for ci := range g.cpg {
		for i := range g.r {
			for j := range g.s {
				row := table[(ci*rs+i*g.s+j)*p:]
				for oy := range g.oh {
					iy := oy*g.sh - g.ph + i*g.dh
					for ox := range g.ow {
						ix := ox*g.sw - g.pw + j*g.dw
						if iy < 0 || iy >= g.h || ix < 0 || ix >= g.w {
							row[oy*g.ow+ox] = -1
							continue
						}
						row[oy*g.ow+ox] = int32((ci*g.h+iy)*g.w + ix) //nolint:gosec // bounded by the input size
					}
				}
			}
		}
	}

	fpg := g.filtersPerGroup()
	for n := range g.n {
		for f := range g.f {
			base := (n*g.c + f/fpg*g.cpg) * g.h * g.w
			wf := w[f*k:]
			for pi := range p {
				var acc float32
				for kk := range k {
					off := table[kk*p+pi]
					if off < 0 {
						continue
					}
					ci, ij := kk/rs, kk%rs
					acc += x[base+int(off)] * wf[ci*rs+g.tap(ij/g.s, ij%g.s)]
				}
				store(y, (n*g.f+f)*p+pi, alpha, beta, acc)
			}
		}
	}
}

// gemm lowers each (image, group) to a column matrix and multiplies it by
// the group's filters.
func gemm(g convGeom, alpha float32, x, w []float32, beta float32, y []float32, col []float32) {
	k, p, rs, fpg := g.k(), g.p(), g.r*g.s, g.filtersPerGroup()

	// Filters in flipped order when the mode asks for it, laid out [F, K].
	filters := w[:g.f*k]
	if g.flip {
		filters = make([]float32, g.f*k)
		for f := range g.f {
			for ci := range g.cpg {
				for i := range g.r {
					for j := range g.s {
						filters[f*k+ci*rs+i*g.s+j] = w[f*k+ci*rs+g.tap(i, j)]
					}
				}
			}
		}
	}

	for n := range g.n {
		for grp := range g.groups {
			im2col(g, x[(n*g.c+grp*g.cpg)*g.h*g.w:], col)
			a := blas32.General{Rows: fpg, Cols: k, Stride: k, Data: filters[grp*fpg*k : (grp+1)*fpg*k]}
			b := blas32.General{Rows: k, Cols: p, Stride: p, Data: col[:k*p]}
			c := blas32.General{Rows: fpg, Cols: p, Stride: p, Data: y[(n*g.f+grp*fpg)*p : (n*g.f+(grp+1)*fpg)*p]}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, alpha, a, b, beta, c)
		}
	}
}

func im2col(g convGeom, x []float32, col []float32) {
	p := g.p()
	for ci := range g.cpg {
		for i := range g.r {
			for j := range g.s {
				row := col[((ci*g.r+i)*g.s+j)*p:]
				for oy := range g.oh {
					iy := oy*g.sh - g.ph + i*g.dh
					for ox := range g.ow {
						ix := ox*g.sw - g.pw + j*g.dw
						if iy < 0 || iy >= g.h || ix < 0 || ix >= g.w {
							row[oy*g.ow+ox] = 0
							continue
						}
						row[oy*g.ow+ox] = x[(ci*g.h+iy)*g.w+ix]
					}
				}
			}
		}
	}
}
