// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kerneltune/engine"
)

var quiet = engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func scenario(t *testing.T, eng *engine.Engine) (*engine.Graph, *engine.RawTensor) {
	t.Helper()
	g := eng.NewGraph()
	x, err := g.AddTensor(engine.Shape{1, 3, 4, 4}, engine.Float32)
	require.NoError(t, err)
	w, err := g.AddTensor(engine.Shape{2, 3, 3, 3}, engine.Float32)
	require.NoError(t, err)
	for i := range x.AsFloat32() {
		x.AsFloat32()[i] = float32(i)
	}
	for i := range w.AsFloat32() {
		w.AsFloat32()[i] = float32(i)
	}
	conv, err := g.AddConv(x, w, nil, engine.ConvParams{
		PadH: 1, PadW: 1,
		StrideH: 2, StrideW: 1,
		DilationH: 1, DilationW: 2,
	})
	require.NoError(t, err)
	return g, conv.Output()
}

func TestOpenAndRun(t *testing.T) {
	for _, d := range []engine.Device{engine.CPU, engine.CUDA} {
		t.Run(d.String(), func(t *testing.T) {
			eng, err := engine.Open(d, engine.WithCache(""), engine.WithTuning(0, 1), quiet)
			require.NoError(t, err)
			defer eng.Close()
			assert.Equal(t, d, eng.Device())
			assert.NotEmpty(t, eng.Name())

			g, out := scenario(t, eng)
			require.NoError(t, eng.Run(t.Context(), g, engine.RunOptions{Tune: true, Cached: true}))
			assert.Equal(t, []float32{4794, 4386, 8199, 7506, 11274, 10542, 20835, 19656}, out.AsFloat32())

			recs := eng.Records()
			require.Len(t, recs, 1)
			assert.Less(t, recs[0].Record.Time(), engine.Unmeasured)
		})
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	eng, err := engine.Open(engine.CPU, engine.WithCache(path), engine.WithTuning(0, 1), quiet)
	require.NoError(t, err)
	g, _ := scenario(t, eng)
	require.NoError(t, eng.Run(t.Context(), g, engine.RunOptions{Tune: true, Cached: true}))
	first := eng.Records()[0].Record
	require.NoError(t, eng.Close())

	eng, err = engine.Open(engine.CPU, engine.WithCache(path), engine.WithTuning(0, 1), quiet)
	require.NoError(t, err)
	defer eng.Close()

	var events int
	eng.Subscribe(func(engine.Event) { events++ })
	g, _ = scenario(t, eng)
	require.NoError(t, eng.Run(t.Context(), g, engine.RunOptions{Tune: true, Cached: true}))
	assert.Zero(t, events)
	assert.Equal(t, first, eng.Records()[0].Record)
}

func TestOpenUnavailableDevice(t *testing.T) {
	_, err := engine.Open(engine.Device(99), quiet)
	assert.ErrorIs(t, err, engine.ErrDeviceUnavailable)

	if runtime.GOOS != "windows" {
		_, err = engine.Open(engine.WebGPU, quiet)
		assert.ErrorIs(t, err, engine.ErrDeviceUnavailable)
	}
}

func TestKernels(t *testing.T) {
	entries, err := engine.Kernels()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, engine.CPU, entries[0].Key.Device)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["Conv_cuDNN_CUDA_Float32"])
	assert.True(t, names["Transpose_cnnl_BANG_Float32"])
	assert.True(t, names["ASinH_cnnl_BANG_Float32"])
}

func TestMissingKernel(t *testing.T) {
	eng, err := engine.Open(engine.BANG, engine.WithCache(""), quiet)
	require.NoError(t, err)
	defer eng.Close()

	g, _ := scenario(t, eng)
	err = eng.Run(t.Context(), g, engine.DefaultRunOptions())
	assert.ErrorIs(t, err, engine.ErrNoKernel)
	assert.False(t, engine.IsFatal(err))
}
