package cuda

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/dnn"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
)

var (
	scenarioParams = op.ConvParams{PadH: 1, PadW: 1, StrideH: 2, StrideW: 1, DilationH: 1, DilationW: 2}
	incremental    = []float32{4794, 4386, 8199, 7506, 11274, 10542, 20835, 19656}
	ones           = []float32{12, 12, 18, 18, 12, 12, 18, 18}
)

var quick = device.WithTuneOptions(tune.Options{Rounds: 1})

func newScenario(t *testing.T, gen tensor.Generator, bias *tensor.RawTensor, p op.ConvParams) *op.ConvOp {
	t.Helper()
	in := tensor.MustRaw(tensor.Shape{1, 3, 4, 4}, tensor.Float32, tensor.CUDA)
	w := tensor.MustRaw(tensor.Shape{2, 3, 3, 3}, tensor.Float32, tensor.CUDA)
	in.Fill(gen)
	w.Fill(gen)
	conv, err := op.NewConv(in, w, bias, p)
	require.NoError(t, err)
	return conv
}

func closeContext(t *testing.T, dc *device.AcceleratorContext) {
	t.Helper()
	assert.Zero(t, dc.DNN().LiveDescriptors())
	assert.NoError(t, dc.Close())
}

func TestConvDefaultRecord(t *testing.T) {
	dc := device.NewCUDA(quick)
	defer closeContext(t, dc)

	for _, tc := range []struct {
		name string
		gen  tensor.Generator
		want []float32
	}{
		{"incremental", tensor.IncrementalGenerator(), incremental},
		{"ones", tensor.OneGenerator(), ones},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conv := newScenario(t, tc.gen, nil, scenarioParams)
			require.NoError(t, NewConv().Compute(conv, dc))
			assert.Equal(t, tc.want, conv.Output().AsFloat32())
		})
	}
}

func TestConvEveryRecordAgrees(t *testing.T) {
	dc := device.NewCUDA(quick)
	defer closeContext(t, dc)
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

	for _, algo := range []dnn.ConvAlgo{dnn.AlgoImplicitGemm, dnn.AlgoImplicitPrecompGemm, dnn.AlgoGemm} {
		for _, mode := range []dnn.ConvMode{dnn.ModeConvolution, dnn.ModeCrossCorrelation} {
			rec := &ConvRecord{Algo: algo, Mode: mode}
			conv.Output().Zero()
			require.NoError(t, NewConv().ComputeWith(conv, rec, dc), rec)
			assert.Equal(t, incremental, conv.Output().AsFloat32(), rec)
		}
	}

	err := NewConv().ComputeWith(conv, &ConvRecord{Algo: dnn.AlgoWinograd}, dc)
	kind, ok := kernel.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, kernel.KindUnsupported, kind)
}

func TestConvTune(t *testing.T) {
	dc := device.NewCUDA(quick)
	defer closeContext(t, dc)
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

	var events []tune.Event
	dc.SetObserver(func(e tune.Event) { events = append(events, e) })

	k := NewConv()
	rec, err := k.Tune(conv, dc)
	require.NoError(t, err)
	cr := kernel.RecordAs[*ConvRecord](rec)
	assert.Less(t, cr.TimeMs, tune.Unmeasured)
	assert.False(t, cr.FuseAct)
	assert.Contains(t, []dnn.ConvAlgo{dnn.AlgoImplicitGemm, dnn.AlgoImplicitPrecompGemm, dnn.AlgoGemm}, cr.Algo)

	// 8 algorithms x 2 modes, no bias so no fused variants, plus the summary.
	require.Len(t, events, 17)
	assert.True(t, events[16].Done)
	assert.True(t, events[16].Found)
	skipped := 0
	for _, e := range events[:16] {
		if e.Skipped() {
			skipped++
		}
	}
	assert.Equal(t, 10, skipped)

	assert.GreaterOrEqual(t, dc.WorkspaceSize(), cr.WorkspaceSize)
	conv.Output().Zero()
	require.NoError(t, k.ComputeWith(conv, rec, dc))
	assert.Equal(t, incremental, conv.Output().AsFloat32())
}

func TestConvTuneFused(t *testing.T) {
	dc := device.NewCUDA(quick)
	defer closeContext(t, dc)

	bias := tensor.MustRaw(tensor.Shape{2}, tensor.Float32, tensor.CUDA)
	require.NoError(t, bias.CopyData([]float32{-5000, 1}))
	p := scenarioParams
	p.Act = op.ActRelu
	conv := newScenario(t, tensor.IncrementalGenerator(), bias, p)
	want := []float32{0, 0, 3199, 2506, 11275, 10543, 20836, 19657}

	k := NewConv()
	require.NoError(t, k.Compute(conv, dc))
	assert.Equal(t, want, conv.Output().AsFloat32())

	for _, rec := range []*ConvRecord{
		{Algo: dnn.AlgoImplicitPrecompGemm, Mode: dnn.ModeConvolution, FuseAct: true},
		{Algo: dnn.AlgoImplicitPrecompGemm, Mode: dnn.ModeCrossCorrelation, FuseAct: true},
		// Fusion is unavailable for GEMM; the record still computes unfused.
		{Algo: dnn.AlgoGemm, Mode: dnn.ModeCrossCorrelation, FuseAct: true},
	} {
		conv.Output().Zero()
		require.NoError(t, k.ComputeWith(conv, rec, dc), rec)
		assert.Equal(t, want, conv.Output().AsFloat32(), rec)
	}

	rec, err := k.Tune(conv, dc)
	require.NoError(t, err)
	conv.Output().Zero()
	require.NoError(t, k.ComputeWith(conv, rec, dc))
	assert.Equal(t, want, conv.Output().AsFloat32())
}

func TestConvTuneAllUnsupported(t *testing.T) {
	declined := true
	dc := device.NewCUDA(quick, device.WithDNN(dnn.WithFaultHook(func(call string) error {
		if declined && call == "GetConvolutionForwardWorkspaceSize" {
			return dnn.ErrNotSupported
		}
		return nil
	})))
	defer closeContext(t, dc)
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

	k := NewConv()
	rec, err := k.Tune(conv, dc)
	require.NoError(t, err)
	assert.Equal(t, DefaultConvRecord(), rec)

	declined = false
	require.NoError(t, k.ComputeWith(conv, rec, dc))
	assert.Equal(t, incremental, conv.Output().AsFloat32())
}

func TestConvTuneRestrictedAlgorithms(t *testing.T) {
	dc := device.NewCUDA(quick, device.WithDNN(dnn.WithConvAlgos(dnn.AlgoGemm)))
	defer closeContext(t, dc)
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

	rec, err := NewConv().Tune(conv, dc)
	require.NoError(t, err)
	cr := kernel.RecordAs[*ConvRecord](rec)
	assert.Equal(t, dnn.AlgoGemm, cr.Algo)
	// im2col matrix of 27 taps by 4 output pixels, plus the flipped filter
	// when convolution mode won.
	want := 27 * 4 * 4
	if cr.Mode == dnn.ModeConvolution {
		want += 2 * 27 * 4
	}
	assert.Equal(t, want, cr.WorkspaceSize)
}

func TestConvWorkspaceExhausted(t *testing.T) {
	dc := device.NewCUDA(quick, device.WithMemoryLimit(1024))
	defer closeContext(t, dc)
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

	err := NewConv().Compute(conv, dc)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrOutOfMemory)
	assert.True(t, kernel.IsFatal(err))
}

func TestConvTunedWorkspaceFitsFreshContext(t *testing.T) {
	for _, limit := range []int64{512, 1024, 0} {
		conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

		tuned := device.NewCUDA(quick, device.WithMemoryLimit(limit))
		rec, err := NewConv().Tune(conv, tuned)
		require.NoError(t, err, limit)
		assert.Less(t, rec.Time(), tune.Unmeasured, limit)
		closeContext(t, tuned)

		fresh := device.NewCUDA(quick, device.WithMemoryLimit(limit))
		_, err = fresh.Workspace(rec.WorkspaceBytes())
		require.NoError(t, err, limit)
		conv.Output().Zero()
		require.NoError(t, NewConv().ComputeWith(conv, rec, fresh), limit)
		assert.Equal(t, incremental, conv.Output().AsFloat32(), limit)
		closeContext(t, fresh)
	}
}

func TestConvExecutionFailure(t *testing.T) {
	boom := errors.New("launch failed")
	dc := device.NewCUDA(quick, device.WithDNN(dnn.WithFaultHook(func(call string) error {
		if call == "ConvolutionForward" {
			return boom
		}
		return nil
	})))
	defer closeContext(t, dc)
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)

	err := NewConv().Compute(conv, dc)
	assert.ErrorIs(t, err, boom)
	kind, _ := kernel.KindOf(err)
	assert.Equal(t, kernel.KindExecution, kind)
}

func TestConvMisuse(t *testing.T) {
	conv := newScenario(t, tensor.IncrementalGenerator(), nil, scenarioParams)
	k := NewConv()

	cpu := device.NewCPU()
	defer cpu.Close()
	kind, _ := kernel.KindOf(k.Compute(conv, cpu))
	assert.Equal(t, kernel.KindConfig, kind)

	dc := device.NewCUDA(quick)
	defer closeContext(t, dc)
	assert.Panics(t, func() { _ = k.ComputeWith(conv, &kernel.BaseRecord{}, dc) })
}

func TestRegister(t *testing.T) {
	r := kernel.NewRegistry()
	require.NoError(t, Register(r))

	got, err := r.Lookup(kernel.Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32})
	require.NoError(t, err)
	assert.IsType(t, &Conv{}, got)
	name, _ := r.Name(kernel.Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32})
	assert.Equal(t, ConvName, name)

	payload, err := kernel.EncodeRecord(&ConvRecord{Algo: dnn.AlgoGemm, WorkspaceSize: 432, TimeMs: 0.5})
	require.NoError(t, err)
	rec, err := kernel.DecodeRecord(ConvRecordKind, payload)
	require.NoError(t, err)
	assert.Equal(t, &ConvRecord{Algo: dnn.AlgoGemm, WorkspaceSize: 432, TimeMs: 0.5}, rec)

	assert.ErrorIs(t, Register(r), kernel.ErrDuplicateKernel)
}
