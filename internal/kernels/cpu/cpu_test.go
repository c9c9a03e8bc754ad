package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/parallel"
	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
)

var scenarioParams = op.ConvParams{PadH: 1, PadW: 1, StrideH: 2, StrideW: 1, DilationH: 1, DilationW: 2}

// every record of the configuration space.
var records = []*ConvRecord{
	{Algo: ConvDirect, Mode: ConvSerial},
	{Algo: ConvDirect, Mode: ConvParallel},
	{Algo: ConvIm2col, Mode: ConvSerial},
	{Algo: ConvIm2col, Mode: ConvParallel},
}

func newCPU() *device.CPUContext {
	return device.NewCPU(
		device.WithParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}),
		device.WithTuneOptions(tune.Options{Rounds: 1}),
	)
}

func newRegistry(t *testing.T) *kernel.Registry {
	t.Helper()
	r := kernel.NewRegistry()
	require.NoError(t, Register(r))
	return r
}

func lookup(t *testing.T, r *kernel.Registry, typ op.OpType, dt tensor.DataType) kernel.Kernel {
	t.Helper()
	k, err := r.Lookup(key(typ, dt))
	require.NoError(t, err)
	return k
}

func newConv(t *testing.T, dt tensor.DataType, gen tensor.Generator, bias *tensor.RawTensor, p op.ConvParams) *op.ConvOp {
	t.Helper()
	in := tensor.MustRaw(tensor.Shape{1, 3, 4, 4}, dt, tensor.CPU)
	w := tensor.MustRaw(tensor.Shape{2, 3, 3, 3}, dt, tensor.CPU)
	in.Fill(gen)
	w.Fill(gen)
	conv, err := op.NewConv(in, w, bias, p)
	require.NoError(t, err)
	return conv
}

func TestRegister(t *testing.T) {
	r := newRegistry(t)
	// 3 convolutions, 6 transposes, 14 elementwise kernels in 3 types.
	assert.Equal(t, 51, r.Len())

	name, ok := r.Name(key(op.Conv, tensor.UInt32))
	require.True(t, ok)
	assert.Equal(t, "Conv_CPU_UInt32", name)
	_, ok = r.Name(key(op.Sigmoid, tensor.Float16))
	assert.True(t, ok)

	_, err := r.Lookup(key(op.Conv, tensor.Int32))
	assert.ErrorIs(t, err, kernel.ErrNoKernel)
}

func TestConvScenario(t *testing.T) {
	dc := newCPU()
	defer dc.Close()
	r := newRegistry(t)

	cases := []struct {
		name string
		gen  tensor.Generator
		want []float64
	}{
		{"incremental", tensor.IncrementalGenerator(), []float64{4794, 4386, 8199, 7506, 11274, 10542, 20835, 19656}},
		{"ones", tensor.OneGenerator(), []float64{12, 12, 18, 18, 12, 12, 18, 18}},
	}
	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float64, tensor.UInt32} {
		for _, tc := range cases {
			t.Run(dt.String()+"/"+tc.name, func(t *testing.T) {
				conv := newConv(t, dt, tc.gen, nil, scenarioParams)
				k := lookup(t, r, op.Conv, dt)

				require.NoError(t, k.Compute(conv, dc))
				assert.Equal(t, tc.want, conv.Output().Float64s())

				for _, rec := range records {
					conv.Output().Zero()
					require.NoError(t, k.ComputeWith(conv, rec, dc), rec)
					assert.Equal(t, tc.want, conv.Output().Float64s(), rec)
				}
			})
		}
	}
}

func TestConvTune(t *testing.T) {
	dc := newCPU()
	defer dc.Close()
	r := newRegistry(t)
	conv := newConv(t, tensor.Float32, tensor.IncrementalGenerator(), nil, scenarioParams)

	var events []tune.Event
	dc.SetObserver(func(e tune.Event) { events = append(events, e) })

	k := lookup(t, r, op.Conv, tensor.Float32)
	rec, err := k.Tune(conv, dc)
	require.NoError(t, err)
	cr := kernel.RecordAs[*ConvRecord](rec)
	assert.Less(t, cr.TimeMs, tune.Unmeasured)
	if cr.Algo == ConvIm2col {
		assert.Equal(t, 4*27*4, cr.WorkspaceSize)
	} else {
		assert.Zero(t, cr.WorkspaceSize)
	}

	require.Len(t, events, 5)
	for _, e := range events[:4] {
		assert.False(t, e.Skipped(), e.Candidate)
	}
	assert.True(t, events[4].Done)

	conv.Output().Zero()
	require.NoError(t, k.ComputeWith(conv, rec, dc))
	assert.Equal(t, []float32{4794, 4386, 8199, 7506, 11274, 10542, 20835, 19656}, conv.Output().AsFloat32())
}

func TestConvTuneWithoutWorkspace(t *testing.T) {
	dc := device.NewCPU(device.WithMemoryLimit(64), device.WithTuneOptions(tune.Options{Rounds: 1}))
	defer dc.Close()
	conv := newConv(t, tensor.Float32, tensor.OneGenerator(), nil, scenarioParams)
	k := NewConv[float32]("Conv_CPU_Float32")

	err := k.ComputeWith(conv, &ConvRecord{Algo: ConvIm2col}, dc)
	assert.ErrorIs(t, err, device.ErrOutOfMemory)
	assert.True(t, kernel.IsFatal(err))

	rec, err := k.Tune(conv, dc)
	require.NoError(t, err)
	assert.Equal(t, ConvDirect, kernel.RecordAs[*ConvRecord](rec).Algo)
}

func TestConvTunedWorkspaceFitsFreshContext(t *testing.T) {
	quick := device.WithTuneOptions(tune.Options{Rounds: 1})
	for _, limit := range []int64{64, 432, 0} {
		conv := newConv(t, tensor.Float32, tensor.IncrementalGenerator(), nil, scenarioParams)
		k := NewConv[float32]("Conv_CPU_Float32")

		tuned := device.NewCPU(device.WithMemoryLimit(limit), quick)
		rec, err := k.Tune(conv, tuned)
		require.NoError(t, err, limit)
		require.NoError(t, tuned.Close())
		if limit > 0 {
			assert.LessOrEqual(t, int64(rec.WorkspaceBytes()), limit)
		}

		fresh := device.NewCPU(device.WithMemoryLimit(limit), quick)
		_, err = fresh.Workspace(rec.WorkspaceBytes())
		require.NoError(t, err, limit)
		conv.Output().Zero()
		require.NoError(t, k.ComputeWith(conv, rec, fresh), limit)
		assert.Equal(t, []float32{4794, 4386, 8199, 7506, 11274, 10542, 20835, 19656}, conv.Output().AsFloat32())
		require.NoError(t, fresh.Close())
	}
}

func TestConvBiasActivation(t *testing.T) {
	dc := newCPU()
	defer dc.Close()

	bias := tensor.MustRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	require.NoError(t, bias.CopyData([]float32{-5000, 1}))
	p := scenarioParams
	p.Act = op.ActRelu
	conv := newConv(t, tensor.Float32, tensor.IncrementalGenerator(), bias, p)

	k := NewConv[float32]("Conv_CPU_Float32")
	for _, rec := range records {
		conv.Output().Zero()
		require.NoError(t, k.ComputeWith(conv, rec, dc))
		assert.Equal(t, []float32{0, 0, 3199, 2506, 11275, 10543, 20836, 19657}, conv.Output().AsFloat32(), rec)
	}
}

func TestConvGrouped(t *testing.T) {
	dc := newCPU()
	defer dc.Close()

	in := tensor.MustRaw(tensor.Shape{2, 4, 3, 3}, tensor.Float32, tensor.CPU)
	w := tensor.MustRaw(tensor.Shape{4, 2, 2, 2}, tensor.Float32, tensor.CPU)
	in.Fill(tensor.IncrementalGenerator())
	w.Fill(tensor.OneGenerator())
	conv, err := op.NewConv(in, w, nil, op.DefaultConvParams())
	require.NoError(t, err)
	require.Equal(t, 2, conv.Groups())

	// Filter f sums the 2x2 windows of channels 2*(f/2) and 2*(f/2)+1.
	x := in.AsFloat32()
	want := make([]float32, 0, 2*4*2*2)
	for b := range 2 {
		for f := range 4 {
			for oy := range 2 {
				for ox := range 2 {
					var sum float32
					for ci := range 2 {
						c := 2*(f/2) + ci
						for ky := range 2 {
							for kx := range 2 {
								sum += x[((b*4+c)*3+oy+ky)*3+ox+kx]
							}
						}
					}
					want = append(want, sum)
				}
			}
		}
	}

	k := NewConv[float32]("Conv_CPU_Float32")
	for _, rec := range records {
		conv.Output().Zero()
		require.NoError(t, k.ComputeWith(conv, rec, dc))
		assert.Equal(t, want, conv.Output().AsFloat32(), rec)
	}
}

func TestTranspose(t *testing.T) {
	dc := newCPU()
	defer dc.Close()
	r := newRegistry(t)

	for _, dt := range transposeDTypes {
		t.Run(dt.String(), func(t *testing.T) {
			in := tensor.MustRaw(tensor.Shape{2, 3, 4}, dt, tensor.CPU)
			in.Fill(tensor.IncrementalGenerator())
			tr, err := op.NewTranspose(in, []int{1, 2, 0})
			require.NoError(t, err)
			require.NoError(t, lookup(t, r, op.Transpose, dt).Compute(tr, dc))

			src, got := in.Float64s(), tr.Output().Float64s()
			for a := range 3 {
				for b := range 4 {
					for c := range 2 {
						assert.Equal(t, src[c*12+a*4+b], got[a*8+b*2+c])
					}
				}
			}
		})
	}
}

func TestUnary(t *testing.T) {
	dc := newCPU()
	defer dc.Close()
	r := newRegistry(t)

	inputs := []float64{-0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 0.9}
	for _, typ := range unaryOps() {
		fn := unaryFuncs[typ]
		t.Run(typ.String(), func(t *testing.T) {
			offset := 0.0
			if typ == op.Acosh {
				offset = 2
			}
			gen := func(i int) float64 { return inputs[i] + offset }

			in32 := tensor.MustRaw(tensor.Shape{8}, tensor.Float32, tensor.CPU)
			in32.Fill(gen)
			u32, err := op.NewUnary(typ, in32)
			require.NoError(t, err)
			require.NoError(t, lookup(t, r, typ, tensor.Float32).Compute(u32, dc))

			in16 := tensor.MustRaw(tensor.Shape{8}, tensor.Float16, tensor.CPU)
			in16.Fill(gen)
			u16, err := op.NewUnary(typ, in16)
			require.NoError(t, err)
			require.NoError(t, lookup(t, r, typ, tensor.Float16).Compute(u16, dc))

			for i, v := range in32.AsFloat32() {
				want := fn(float64(v))
				assert.InDelta(t, want, u32.Output().AsFloat32()[i], 1e-6)
				// half precision keeps about three decimal digits
				assert.InDelta(t, want, float64(u16.Output().AsFloat16()[i].Float32()), 4e-3*math.Max(1, math.Abs(want)))
			}
		})
	}
}

func TestUnaryFloat16Rounding(t *testing.T) {
	dc := newCPU()
	defer dc.Close()

	in := tensor.MustRaw(tensor.Shape{2}, tensor.Float16, tensor.CPU)
	x := in.AsFloat16()
	x[0], x[1] = float16.Fromfloat32(-1), float16.Fromfloat32(2)
	u, err := op.NewUnary(op.Relu, in)
	require.NoError(t, err)

	require.NoError(t, kernel.WithoutConfig("Relu_CPU_Float16", unary(op.Relu)).Compute(u, dc))
	assert.Equal(t, []float16.Float16{float16.Fromfloat32(0), float16.Fromfloat32(2)}, u.Output().AsFloat16())
}

func TestUnaryRejectsOtherOperators(t *testing.T) {
	dc := newCPU()
	defer dc.Close()

	in := tensor.MustRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	u, err := op.NewUnary(op.Sin, in)
	require.NoError(t, err)

	kind, _ := kernel.KindOf(unary(op.Cos)(u, dc))
	assert.Equal(t, kernel.KindConfig, kind)
}
