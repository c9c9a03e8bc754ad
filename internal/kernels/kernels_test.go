package kernels

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

func TestRegisterAll(t *testing.T) {
	r := kernel.NewRegistry()
	require.NoError(t, RegisterAll(r))

	want := 51 + 1 + 13
	if runtime.GOOS == "windows" {
		want += 14
	}
	assert.Equal(t, want, r.Len())

	for _, key := range []kernel.Key{
		{Device: tensor.CPU, Op: op.Conv, DType: tensor.Float32},
		{Device: tensor.CPU, Op: op.Conv, DType: tensor.UInt32},
		{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32},
		{Device: tensor.BANG, Op: op.Transpose, DType: tensor.Float32},
		{Device: tensor.BANG, Op: op.Atanh, DType: tensor.Float32},
	} {
		_, err := r.Lookup(key)
		assert.NoError(t, err, key)
	}

	_, err := r.Lookup(kernel.Key{Device: tensor.CUDA, Op: op.Transpose, DType: tensor.Float32})
	assert.ErrorIs(t, err, kernel.ErrNoKernel)

	assert.ErrorIs(t, RegisterAll(r), kernel.ErrDuplicateKernel)
}

func TestInitIsIdempotent(t *testing.T) {
	require.NoError(t, Init())
	n := kernel.Global().Len()
	require.NoError(t, Init())
	assert.Equal(t, n, kernel.Global().Len())

	got, err := kernel.Global().Lookup(kernel.Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32})
	require.NoError(t, err)
	again, err := kernel.Global().Lookup(kernel.Key{Device: tensor.CUDA, Op: op.Conv, DType: tensor.Float32})
	require.NoError(t, err)
	assert.Same(t, got, again)
}
