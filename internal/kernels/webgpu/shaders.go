// Package webgpu holds the elementwise kernels of WebGPU devices. Each
// kernel is one WGSL compute shader generated from an expression in x.
package webgpu

import (
	"fmt"

	"github.com/born-ml/kerneltune/internal/op"
)

// workgroupSize is the number of invocations per workgroup.
const workgroupSize = 256

// expressions maps each operator to its WGSL body over x.
var expressions = map[op.OpType]string{
	op.Sin:     "sin(x)",
	op.Cos:     "cos(x)",
	op.Tan:     "tan(x)",
	op.Asin:    "asin(x)",
	op.Acos:    "acos(x)",
	op.Atan:    "atan(x)",
	op.Sinh:    "sinh(x)",
	op.Cosh:    "cosh(x)",
	op.Tanh:    "tanh(x)",
	op.Asinh:   "asinh(x)",
	op.Acosh:   "acosh(x)",
	op.Atanh:   "atanh(x)",
	op.Relu:    "max(0.0, x)",
	op.Sigmoid: "1.0 / (1.0 + exp(-x))",
}

const unaryTemplate = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let x = input[idx];
        result[idx] = %s;
    }
}
`

// Ops lists the operators with a shader, in registration order.
func Ops() []op.OpType {
	return append(op.Trigonometric(), op.Relu, op.Sigmoid)
}

// unaryShader returns the WGSL source of typ.
func unaryShader(typ op.OpType) (string, bool) {
	expr, ok := expressions[typ]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(unaryTemplate, workgroupSize, expr), true
}

// Name is the display name of the kernel for typ.
func Name(typ op.OpType) string {
	return fmt.Sprintf("%s_WGSL_WebGPU_Float32", typ)
}

// workgroups is the dispatch size covering n elements.
func workgroups(n int) uint32 {
	return uint32((n + workgroupSize - 1) / workgroupSize) //nolint:gosec // element counts fit in uint32
}
