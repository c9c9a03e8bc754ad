//go:build !windows

package webgpu

import "github.com/born-ml/kerneltune/internal/kernel"

// Register is a no-op where WebGPU is unavailable.
func Register(*kernel.Registry) error { return nil }
