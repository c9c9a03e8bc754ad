package webgpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kerneltune/internal/op"
)

func TestUnaryShaders(t *testing.T) {
	for _, typ := range Ops() {
		code, ok := unaryShader(typ)
		require.True(t, ok, typ)
		assert.Contains(t, code, "@workgroup_size(256)")
		assert.Contains(t, code, "result[idx] = "+expressions[typ]+";")
		assert.Equal(t, 1, strings.Count(code, "fn main"))
	}

	_, ok := unaryShader(op.Conv)
	assert.False(t, ok)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Asinh_WGSL_WebGPU_Float32", Name(op.Asinh))
	assert.Len(t, Ops(), 14)
}

func TestWorkgroups(t *testing.T) {
	assert.Equal(t, uint32(1), workgroups(1))
	assert.Equal(t, uint32(1), workgroups(256))
	assert.Equal(t, uint32(2), workgroups(257))
}
