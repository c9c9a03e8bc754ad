//go:build windows

package webgpu

import (
	"encoding/binary"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/kerneltune/internal/device"
	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/op"
	"github.com/born-ml/kerneltune/internal/tensor"
)

// Register adds the WebGPU kernels to r.
func Register(r *kernel.Registry) error {
	for _, typ := range Ops() {
		key := kernel.Key{Device: tensor.WebGPU, Op: typ, DType: tensor.Float32}
		if err := r.Register(key, kernel.WithoutConfig(Name(typ), unary(typ)), Name(typ)); err != nil {
			return err
		}
	}
	return nil
}

// unary runs the shader of typ with the input uploaded and the output in
// the context workspace, then reads the output back.
func unary(typ op.OpType) kernel.ComputeFunc {
	name := Name(typ)
	code, _ := unaryShader(typ)
	return func(o op.Operator, dc device.Context) error {
		gc, ok := dc.(*device.WebGPUContext)
		if !ok {
			return kernel.Errorf(kernel.KindConfig, typ.String(), "context %s is not a WebGPU device", dc.Name())
		}
		if o.Type() != typ {
			return kernel.Errorf(kernel.KindConfig, typ.String(), "operator %s passed to %s", o.Type(), name)
		}

		in := o.Input(0)
		size := uint64(in.ByteSize()) //nolint:gosec // non-negative
		ws, err := dc.Workspace(in.ByteSize())
		if err != nil {
			return kernel.Classify(typ.String(), err)
		}
		result := ws.(*device.GPUBuffer).Raw()

		pipeline := gc.Pipeline(name, code)
		input := gc.Upload(in.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
		defer input.Release()

		params := make([]byte, 16)
		binary.LittleEndian.PutUint32(params[0:4], uint32(in.NumElements())) //nolint:gosec // fits
		uniform := gc.Upload(params, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
		defer uniform.Release()

		bindGroup := gc.GPU().CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
			wgpu.BufferBindingEntry(0, input, 0, size),
			wgpu.BufferBindingEntry(1, result, 0, size),
			wgpu.BufferBindingEntry(2, uniform, 0, 16),
		})
		defer bindGroup.Release()

		encoder := gc.GPU().CreateCommandEncoder(nil)
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, bindGroup, nil)
		pass.DispatchWorkgroups(workgroups(in.NumElements()), 1, 1)
		pass.End()
		gc.Queue().Submit(encoder.Finish(nil))

		return kernel.Classify(typ.String(), gc.Download(result, o.Output().Data()))
	}
}
