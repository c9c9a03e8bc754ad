// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package engine runs operator graphs on a device through the kernel
// registry, tuning each operator's kernel configuration on demand.
//
// # Overview
//
// An Engine owns one device context. Graphs built for that device are
// executed operator by operator:
//   - every operator resolves to the kernel registered for its device,
//     operator type and data type
//   - with tuning enabled, each kernel's configuration space is searched
//     once per operator and the fastest valid record is kept
//   - records are shared between operators of equal shape and, with a
//     cache file, between processes
//
// # Basic Usage
//
//	eng, err := engine.Open(engine.CUDA)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	g := eng.NewGraph()
//	x, _ := g.AddTensor(engine.Shape{1, 3, 4, 4}, engine.Float32)
//	w, _ := g.AddTensor(engine.Shape{2, 3, 3, 3}, engine.Float32)
//	conv, _ := g.AddConv(x, w, nil, engine.DefaultConvParams())
//
//	if err := eng.Run(ctx, g, engine.DefaultRunOptions()); err != nil {
//	    return err
//	}
//	fmt.Println(conv.Output().AsFloat32())
//
// # Devices
//
// CPU kernels run natively. CUDA and BANG contexts execute their compute
// library on the host, so every device is available on every machine.
// WebGPU is available on Windows only.
//
// # Configuration
//
// Defaults come from KERNELTUNE_* environment variables; see the env
// command of kerneltune for the full list.
package engine
