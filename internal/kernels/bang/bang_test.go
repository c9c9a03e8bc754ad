package bang

import (
	"errors"
	"math"
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

func lookup(t *testing.T, r *kernel.Registry, typ op.OpType) kernel.Kernel {
	t.Helper()
	k, err := r.Lookup(kernel.Key{Device: tensor.BANG, Op: typ, DType: tensor.Float32})
	require.NoError(t, err)
	return k
}

func newRegistry(t *testing.T) *kernel.Registry {
	t.Helper()
	r := kernel.NewRegistry()
	require.NoError(t, Register(r))
	return r
}

func TestRegister(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, 13, r.Len())

	e, err := r.LookupName("ASinH_cnnl_BANG_Float32")
	require.NoError(t, err)
	assert.Equal(t, op.Asinh, e.Key.Op)

	_, err = r.Lookup(kernel.Key{Device: tensor.BANG, Op: op.Sin, DType: tensor.Float16})
	assert.ErrorIs(t, err, kernel.ErrNoKernel)
	assert.ErrorIs(t, Register(r), kernel.ErrDuplicateKernel)
}

func TestTranspose(t *testing.T) {
	dc := device.NewBANG()
	r := newRegistry(t)

	in := tensor.MustRaw(tensor.Shape{2, 3, 4}, tensor.Float32, tensor.BANG)
	in.Fill(tensor.IncrementalGenerator())
	tr, err := op.NewTranspose(in, []int{2, 0, 1})
	require.NoError(t, err)

	k := lookup(t, r, op.Transpose)
	require.NoError(t, k.Compute(tr, dc))

	assert.Equal(t, tensor.Shape{4, 2, 3}, tr.Output().Shape())
	src, got := in.AsFloat32(), tr.Output().AsFloat32()
	for a := range 4 {
		for b := range 2 {
			for c := range 3 {
				assert.Equal(t, src[b*12+c*4+a], got[a*6+b*3+c], "out[%d,%d,%d]", a, b, c)
			}
		}
	}

	rec, err := k.Tune(tr, dc)
	require.NoError(t, err)
	assert.Less(t, rec.Time(), tune.Unmeasured)
	require.NoError(t, k.ComputeWith(tr, rec, dc))

	assert.Zero(t, dc.DNN().LiveDescriptors())
	assert.NoError(t, dc.Close())
}

func TestTrigonometric(t *testing.T) {
	dc := device.NewBANG()
	r := newRegistry(t)

	ref := map[op.OpType]func(float64) float64{
		op.Sin:   math.Sin,
		op.Cos:   math.Cos,
		op.Tan:   math.Tan,
		op.Asin:  math.Asin,
		op.Acos:  math.Acos,
		op.Atan:  math.Atan,
		op.Sinh:  math.Sinh,
		op.Cosh:  math.Cosh,
		op.Tanh:  math.Tanh,
		op.Asinh: math.Asinh,
		op.Acosh: math.Acosh,
		op.Atanh: math.Atanh,
	}
	for _, typ := range op.Trigonometric() {
		t.Run(typ.String(), func(t *testing.T) {
			offset := 0.0
			if typ == op.Acosh {
				offset = 1
			}
			in := tensor.MustRaw(tensor.Shape{2, 4}, tensor.Float32, tensor.BANG)
			in.Fill(func(i int) float64 { return offset + 0.1*float64(i+1) })
			u, err := op.NewUnary(typ, in)
			require.NoError(t, err)

			require.NoError(t, lookup(t, r, typ).Compute(u, dc))
			for i, x := range in.AsFloat32() {
				assert.InDelta(t, ref[typ](float64(x)), u.Output().AsFloat32()[i], 1e-6)
			}
		})
	}

	assert.Zero(t, dc.DNN().LiveDescriptors())
	assert.NoError(t, dc.Close())
}

func TestTrigonPreference(t *testing.T) {
	for _, tr := range trigons {
		assert.Equal(t, dnn.PreferHighPrecision, tr.prefer, tr.name)
	}

	dc := device.NewBANG()
	in := tensor.MustRaw(tensor.Shape{4}, tensor.Float32, tensor.BANG)
	in.Fill(func(i int) float64 { return 0.25 * float64(i) })
	u, err := op.NewUnary(op.Tanh, in)
	require.NoError(t, err)

	fast := trigon{op.Tanh, dnn.TrigonTanh, dnn.PreferFast, "TanH_fast"}
	require.NoError(t, fast.compute(u, dc))
	for i, x := range in.AsFloat32() {
		assert.InDelta(t, math.Tanh(float64(x)), u.Output().AsFloat32()[i], 1e-6)
	}

	bad := trigon{op.Tanh, dnn.TrigonTanh, dnn.ComputationPreference(7), "TanH_bad"}
	assert.Error(t, bad.compute(u, dc))
	assert.Zero(t, dc.DNN().LiveDescriptors())
	assert.NoError(t, dc.Close())
}

func TestTrigonFailureReleasesDescriptors(t *testing.T) {
	boom := errors.New("queue full")
	dc := device.NewBANG(device.WithDNN(dnn.WithFaultHook(func(call string) error {
		if call == "TrigonForward" {
			return boom
		}
		return nil
	})))
	r := newRegistry(t)

	in := tensor.MustRaw(tensor.Shape{4}, tensor.Float32, tensor.BANG)
	u, err := op.NewUnary(op.Cos, in)
	require.NoError(t, err)

	err = lookup(t, r, op.Cos).Compute(u, dc)
	assert.ErrorIs(t, err, boom)
	kind, _ := kernel.KindOf(err)
	assert.Equal(t, kernel.KindExecution, kind)
	assert.Zero(t, dc.DNN().LiveDescriptors())

	// Tuning a kernel that cannot run falls back to its default record.
	rec, err := lookup(t, r, op.Cos).Tune(u, dc)
	require.NoError(t, err)
	assert.Equal(t, tune.Unmeasured, rec.Time())
}

func TestWrongOperator(t *testing.T) {
	dc := device.NewBANG()
	defer dc.Close()
	r := newRegistry(t)

	in := tensor.MustRaw(tensor.Shape{4}, tensor.Float32, tensor.BANG)
	u, err := op.NewUnary(op.Sin, in)
	require.NoError(t, err)

	kind, _ := kernel.KindOf(lookup(t, r, op.Cos).Compute(u, dc))
	assert.Equal(t, kernel.KindConfig, kind)
	kind, _ = kernel.KindOf(lookup(t, r, op.Transpose).Compute(u, dc))
	assert.Equal(t, kernel.KindConfig, kind)
}
