// Package kernels wires every backend's kernels into a registry.
package kernels

import (
	"sync"

	"github.com/born-ml/kerneltune/internal/kernel"
	"github.com/born-ml/kerneltune/internal/kernels/bang"
	"github.com/born-ml/kerneltune/internal/kernels/cpu"
	"github.com/born-ml/kerneltune/internal/kernels/cuda"
	"github.com/born-ml/kerneltune/internal/kernels/webgpu"
)

// RegisterAll adds the kernels of every backend to r. It fails on the
// first duplicate.
func RegisterAll(r *kernel.Registry) error {
	for _, register := range []func(*kernel.Registry) error{
		cpu.Register,
		cuda.Register,
		bang.Register,
		webgpu.Register,
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}

var (
	initOnce sync.Once
	errInit  error
)

// Init fills the global registry once. Later calls return the first result.
func Init() error {
	initOnce.Do(func() {
		errInit = RegisterAll(kernel.Global())
	})
	return errInit
}
