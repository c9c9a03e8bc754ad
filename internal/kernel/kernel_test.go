package kernel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/dnn"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
	"github.com/born-ml/kerneltune/internal/tune"
)

var (
	sinKey  = Key{Device: tensor.CPU, Op: op.Sin, DType: tensor.Float32}
	convKey = Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32}
)

func noop(op.Operator, device.Context) error { return nil }

func TestRegistryLookupIsStable(t *testing.T) {
	r := NewRegistry()
	k := WithoutConfig("Sin_CPU_Float32", noop)
	require.NoError(t, r.Register(sinKey, k, "Sin_CPU_Float32"))

	for range 3 {
		got, err := r.Lookup(sinKey)
		require.NoError(t, err)
		assert.Same(t, k, got)
	}
	name, ok := r.Name(sinKey)
	assert.True(t, ok)
	assert.Equal(t, "Sin_CPU_Float32", name)
}

func TestRegistryDuplicates(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(sinKey, WithoutConfig("a", noop), "a")

	err := r.Register(sinKey, WithoutConfig("b", noop), "b")
	require.ErrorIs(t, err, ErrDuplicateKernel)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConfig, kind)

	err = r.Register(convKey, WithoutConfig("a", noop), "a")
	require.ErrorIs(t, err, ErrDuplicateKernel)

	assert.Panics(t, func() { r.MustRegister(sinKey, WithoutConfig("c", noop), "c") })
	assert.Equal(t, 1, r.Len())
}

func TestLookupMissing(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(convKey, WithoutConfig("conv", noop), "Conv_cuDNN_CUDA_Float32")

	_, err := r.Lookup(Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float64})
	require.ErrorIs(t, err, ErrNoKernel)

	var nk *NoKernelError
	require.ErrorAs(t, err, &nk)
	assert.Equal(t, "Conv_cuDNN_CUDA_Float32", nk.Suggestion)
	assert.Contains(t, err.Error(), "CUDA/Conv/Float64")

	_, err = r.LookupName("Conv_cudnn_CUDA_Float32")
	require.ErrorIs(t, err, ErrNoKernel)
	assert.Contains(t, err.Error(), "did you mean Conv_cuDNN_CUDA_Float32?")

	_, err = NewRegistry().Lookup(convKey)
	require.ErrorIs(t, err, ErrNoKernel)
}

func TestEntriesSorted(t *testing.T) {
	r := NewRegistry()
	keys := []Key{
		{Device: tensor.BANG, Op: op.Sin, DType: tensor.Float32},
		{Device: tensor.CPU, Op: op.Conv, DType: tensor.UInt32},
		{Device: tensor.CPU, Op: op.Conv, DType: tensor.Float32},
		convKey,
	}
	for i, k := range keys {
		name := fmt.Sprintf("k%d", i)
		r.MustRegister(k, WithoutConfig(name, noop), name)
	}

	var got []Key
	for _, e := range r.Entries() {
		got = append(got, e.Key)
	}
	assert.Equal(t, []Key{keys[2], keys[1], convKey, keys[0]}, got)
}

type otherRecord struct{ BaseRecord }

func (r *otherRecord) Kind() string { return "other" }

func TestRecordAs(t *testing.T) {
	var rec PerfRecord = &BaseRecord{TimeMs: 2}
	assert.InDelta(t, 2.0, RecordAs[*BaseRecord](rec).TimeMs, 0)

	assert.PanicsWithError(t,
		`Config error in RecordAs: record *kernel.otherRecord (kind "other") passed where *kernel.BaseRecord is expected`,
		func() { RecordAs[*BaseRecord](&otherRecord{}) })
}

func TestDecodeRecord(t *testing.T) {
	payload, err := EncodeRecord(&BaseRecord{TimeMs: 1.25})
	require.NoError(t, err)

	rec, err := DecodeRecord(BaseKind, payload)
	require.NoError(t, err)
	assert.Equal(t, &BaseRecord{TimeMs: 1.25}, rec)

	RegisterRecord("other", func() PerfRecord { return &otherRecord{} })
	rec, err = DecodeRecord("other", []byte(`{"time_ms":3}`))
	require.NoError(t, err)
	assert.Equal(t, "other", rec.Kind())

	_, err = DecodeRecord("missing", payload)
	assert.Error(t, err)
}

func unaryOp(t *testing.T) *op.UnaryOp {
	t.Helper()
	g := op.NewGraph(tensor.CPU)
	x, err := g.AddTensor(tensor.Shape{2, 3}, tensor.Float32)
	require.NoError(t, err)
	u, err := g.AddUnary(op.Sin, x)
	require.NoError(t, err)
	return u
}

func TestWithoutConfigTune(t *testing.T) {
	dc := device.NewCPU(device.WithTuneOptions(tune.Options{Warmup: 1, Rounds: 2}))
	defer dc.Close()

	var calls int
	k := WithoutConfig("Sin_CPU_Float32", func(op.Operator, device.Context) error { calls++; return nil })

	var events []tune.Event
	dc.SetObserver(func(e tune.Event) { events = append(events, e) })

	rec, err := k.Tune(unaryOp(t), dc)
	require.NoError(t, err)
	assert.Equal(t, BaseKind, rec.Kind())
	assert.GreaterOrEqual(t, rec.Time(), 0.0)
	assert.Less(t, rec.Time(), tune.Unmeasured)
	assert.Equal(t, 3, calls)
	require.Len(t, events, 2)
	assert.True(t, events[1].Done)

	require.NoError(t, k.ComputeWith(unaryOp(t), rec, dc))
	assert.Panics(t, func() { _ = k.ComputeWith(unaryOp(t), &otherRecord{}, dc) })
}

func TestWithoutConfigTuneFailure(t *testing.T) {
	dc := device.NewCPU(device.WithTuneOptions(tune.Options{Rounds: 1}))
	defer dc.Close()

	k := WithoutConfig("broken", func(op.Operator, device.Context) error { return errors.New("broken") })
	rec, err := k.Tune(unaryOp(t), dc)
	require.NoError(t, err)
	assert.Equal(t, tune.Unmeasured, rec.Time())
}

func TestClassify(t *testing.T) {
	oom := Classify("Conv", fmt.Errorf("workspace: %w", device.ErrOutOfMemory))
	kind, _ := KindOf(oom)
	assert.Equal(t, KindResourceExhausted, kind)
	assert.ErrorIs(t, oom, device.ErrOutOfMemory)
	assert.True(t, IsFatal(oom))

	shape := Errorf(KindShapeMismatch, "Conv", "bad")
	assert.Same(t, shape, Classify("Conv", shape))

	exec := Classify("Conv", errors.New("boom"))
	kind, _ = KindOf(exec)
	assert.Equal(t, KindExecution, kind)

	unsupported := Classify("Conv", fmt.Errorf("algo 3: %w", dnn.ErrNotSupported))
	kind, _ = KindOf(unsupported)
	assert.Equal(t, KindUnsupported, kind)
	assert.False(t, IsFatal(unsupported))

	assert.NoError(t, Classify("Conv", nil))
	assert.False(t, IsFatal(&NoKernelError{}))
	assert.False(t, IsFatal(errors.New("plain")))
}
