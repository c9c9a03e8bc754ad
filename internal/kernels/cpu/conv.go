// Package cpu holds the host kernels. They run on any context whose memory
// the host can address and fan their outer loops out with internal/parallel.
package cpu

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/parallel"
	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
)

// ConvRecordKind is the record kind of the host convolutions.
const ConvRecordKind = "cpu.conv"

// ConvAlgo is a host convolution algorithm.
type ConvAlgo int

// Host convolution algorithms.
const (
	// ConvDirect accumulates every output element from the input window.
	ConvDirect ConvAlgo = iota
	// ConvIm2col unfolds input patches into the workspace and multiplies.
	ConvIm2col

	numConvAlgos = 2
)

func (a ConvAlgo) String() string {
	if a == ConvIm2col {
		return "Im2col"
	}
	return "Direct"
}

// ConvMode selects how the outer loops are scheduled.
type ConvMode int

// Scheduling modes.
const (
	ConvSerial ConvMode = iota
	ConvParallel

	numConvModes = 2
)

func (m ConvMode) String() string {
	if m == ConvParallel {
		return "Parallel"
	}
	return "Serial"
}

// ConvRecord is a tuned configuration of a host convolution.
type ConvRecord struct {
	Algo          ConvAlgo `json:"algo"`
	Mode          ConvMode `json:"mode"`
	WorkspaceSize int      `json:"workspace_size"`
	TimeMs        float64  `json:"time_ms"`
}

func (r *ConvRecord) Kind() string        { return ConvRecordKind }
func (r *ConvRecord) Time() float64       { return r.TimeMs }
func (r *ConvRecord) WorkspaceBytes() int { return r.WorkspaceSize }

func (r *ConvRecord) String() string {
	return fmt.Sprintf("algo=%s mode=%s workspace=%d", r.Algo, r.Mode, r.WorkspaceSize)
}

// DefaultConvRecord is the direct algorithm on one goroutine.
func DefaultConvRecord() *ConvRecord {
	return &ConvRecord{Algo: ConvDirect, Mode: ConvSerial, TimeMs: tune.Unmeasured}
}

// number is the element types the host convolution is instantiated for.
type number interface {
	~float32 | ~float64 | ~uint32
}

// Conv is the host convolution for element type T. Unsigned arithmetic
// wraps modulo 2^32.
type Conv[T number] struct {
	name string
}

// NewConv returns a host convolution for T under a display name.
func NewConv[T number](name string) *Conv[T] { return &Conv[T]{name: name} }

func (k *Conv[T]) DefaultRecord() kernel.PerfRecord { return DefaultConvRecord() }

func (k *Conv[T]) Compute(o op.Operator, dc device.Context) error {
	return k.ComputeWith(o, DefaultConvRecord(), dc)
}

func (k *Conv[T]) ComputeWith(o op.Operator, rec kernel.PerfRecord, dc device.Context) error {
	r := kernel.RecordAs[*ConvRecord](rec)
	conv, err := asConv(o)
	if err != nil {
		return err
	}
	return kernel.Classify("Conv", k.run(conv, r, dc))
}

// Tune times both algorithms in both scheduling modes.
func (k *Conv[T]) Tune(o op.Operator, dc device.Context) (kernel.PerfRecord, error) {
	conv, err := asConv(o)
	if err != nil {
		return nil, err
	}

	axes := tune.Axes{Algos: numConvAlgos, Modes: numConvModes}
	res := tune.Search(k.name, axes.Candidates(), func(c tune.Candidate) (tune.Measurement, error) {
		rec := &ConvRecord{Algo: ConvAlgo(c.Algo), Mode: ConvMode(c.Mode)}
		rec.WorkspaceSize = workspaceSize(newConvGeom(conv), rec.Algo, conv.DType())
		ms, err := tune.Timeit(func() error { return k.run(conv, rec, dc) }, dc.Sync, dc.TuneOptions())
		return tune.Measurement{TimeMs: ms, WorkspaceBytes: rec.WorkspaceSize}, err
	}, dc.Observer())

	if !res.Found {
		return DefaultConvRecord(), nil
	}
	return &ConvRecord{
		Algo:          ConvAlgo(res.Best.Algo),
		Mode:          ConvMode(res.Best.Mode),
		WorkspaceSize: res.WorkspaceBytes,
		TimeMs:        res.TimeMs,
	}, nil
}

func asConv(o op.Operator) (*op.ConvOp, error) {
	conv, ok := o.(*op.ConvOp)
	if !ok {
		return nil, kernel.Errorf(kernel.KindConfig, "Conv", "operator %s is not a convolution", o.Type())
	}
	return conv, nil
}

// schedule returns the worker policy of dc for mode.
func schedule(dc device.Context, mode ConvMode) parallel.Config {
	if mode == ConvSerial {
		return parallel.Serial()
	}
	return workers(dc)
}

// workers is the context's worker policy, or the process default.
func workers(dc device.Context) parallel.Config {
	if p, ok := dc.(interface{ Parallel() parallel.Config }); ok {
		return p.Parallel()
	}
	return parallel.DefaultConfig()
}

// convGeom is the resolved shape of one convolution.
type convGeom struct {
	n, c, h, w             int
	f, cpg, r, s           int
	groups                 int
	ph, pw, sh, sw, dh, dw int
	oh, ow                 int
}

func newConvGeom(o *op.ConvOp) convGeom {
	var g convGeom
	g.n, g.c, g.h, g.w, g.f, g.r, g.s = o.NCHWFRS()
	g.ph, g.pw, g.sh, g.sw, g.dh, g.dw = o.PadStrideDilation()
	g.cpg, g.groups = o.ChannelPerGroup(), o.Groups()
	out := o.Output().Dims()
	g.oh, g.ow = out[2], out[3]
	return g
}

func (g *convGeom) filtersPerGroup() int { return g.f / g.groups }
func (g *convGeom) k() int               { return g.cpg * g.r * g.s }
func (g *convGeom) p() int               { return g.oh * g.ow }

// workspaceSize is the im2col column matrix of one (batch, group) pair.
func workspaceSize(g convGeom, algo ConvAlgo, dt tensor.DataType) int {
	if algo != ConvIm2col {
		return 0
	}
	return g.p() * g.k() * dt.Size()
}

func (k *Conv[T]) run(o *op.ConvOp, rec *ConvRecord, dc device.Context) error {
	g := newConvGeom(o)
	x := tensor.View[T](o.Input(0))
	w := tensor.View[T](o.Input(1))
	y := tensor.View[T](o.Output())
	cfg := schedule(dc, rec.Mode)

	switch rec.Algo {
	case ConvDirect:
		convDirect(g, x, w, y, cfg)
	case ConvIm2col:
		need := workspaceSize(g, ConvIm2col, o.DType())
		ws, err := device.HostWorkspace(dc, max(need, rec.WorkspaceSize))
		if err != nil {
			return err
		}
		convIm2col(g, x, w, y, device.HostView[T](ws, g.p()*g.k()), cfg)
	default:
		return kernel.Errorf(kernel.KindUnsupported, "Conv", "algorithm %d", rec.Algo)
	}

	var bias []T
	if b := o.Bias(); b != nil {
		bias = tensor.View[T](b)
	}
	epilogue(g, y, bias, o.Act())
	return nil
}

// convDirect computes each output plane from the input window.
//
// For output (b, fi, oy, ox) the window starts at
// (oy*sh - ph, ox*sw - pw) and steps by the dilation; taps that fall
// into the padding contribute zero.
func convDirect[T number](g convGeom, x, w, y []T, cfg parallel.Config) {
	fpg := g.filtersPerGroup()
	parallel.ForBatch(g.n, g.f, func(b, fi int) {
		grp := fi / fpg
		out := y[(b*g.f+fi)*g.p() : (b*g.f+fi+1)*g.p()]
		for oy := range g.oh {
			for ox := range g.ow {
				var acc T
				for ci := range g.cpg {
					plane := x[(b*g.c+grp*g.cpg+ci)*g.h*g.w:]
					taps := w[(fi*g.cpg+ci)*g.r*g.s:]
					for ky := range g.r {
						iy := oy*g.sh - g.ph + ky*g.dh
						if iy < 0 || iy >= g.h {
							continue
						}
						for kx := range g.s {
							ix := ox*g.sw - g.pw + kx*g.dw
							if ix < 0 || ix >= g.w {
								continue
							}
							acc += plane[iy*g.w+ix] * taps[ky*g.s+kx]
						}
					}
				}
				out[oy*g.ow+ox] = acc
			}
		}
	}, cfg)
}

// convIm2col unfolds one (batch, group) pair at a time into col and
// multiplies it with the group's filters.
//
// Layout:
//
//	col:    [P, K]  one row per output pixel, P = oh*ow, K = cpg*r*s
//	filter: [F/G, K] rows of the group, already contiguous in FCRS
//	out:    out[fi][p] = sum_k filter[fi][k] * col[p][k]
//
// The filter rows of a group are independent, so Parallel mode splits them.
func convIm2col[T number](g convGeom, x, w, y, col []T, cfg parallel.Config) {
	fpg, kk, pp := g.filtersPerGroup(), g.k(), g.p()
	for b := range g.n {
		for grp := range g.groups {
			im2col(g, x, b, grp, col)
			parallel.For(fpg, func(j int) {
				fi := grp*fpg + j
				row := w[fi*kk : (fi+1)*kk]
				out := y[(b*g.f+fi)*pp : (b*g.f+fi+1)*pp]
				for p := range pp {
					patch := col[p*kk : (p+1)*kk]
					var acc T
					for i, v := range row {
						acc += v * patch[i]
					}
					out[p] = acc
				}
			}, cfg)
		}
	}
}

// im2col writes the patches of batch b, group grp into col, zero for padding.
func im2col[T number](g convGeom, x []T, b, grp int, col []T) {
	i := 0
	for oy := range g.oh {
		for ox := range g.ow {
			for ci := range g.cpg {
				plane := x[(b*g.c+grp*g.cpg+ci)*g.h*g.w:]
				for ky := range g.r {
					iy := oy*g.sh - g.ph + ky*g.dh
					for kx := range g.s {
						ix := ox*g.sw - g.pw + kx*g.dw
						if iy >= 0 && iy < g.h && ix >= 0 && ix < g.w {
							col[i] = plane[iy*g.w+ix]
						} else {
							col[i] = 0
						}
						i++
					}
				}
			}
		}
	}
}

// epilogue adds the per-filter bias and applies the activation in place.
func epilogue[T number](g convGeom, y, bias []T, act op.ActType) {
	if bias == nil && act == op.ActNone {
		return
	}
	pp := g.p()
	for b := range g.n {
		for fi := range g.f {
			out := y[(b*g.f+fi)*pp : (b*g.f+fi+1)*pp]
			for i := range out {
				if bias != nil {
					out[i] += bias[fi]
				}
				out[i] = activate(act, out[i])
			}
		}
	}
}

func activate[T number](act op.ActType, v T) T {
	switch act {
	case op.ActRelu:
		if v < 0 {
			return 0
		}
	case op.ActSigmoid:
		return T(sigmoid(float64(v)))
	}
	return v
}
