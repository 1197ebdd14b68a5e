// Package webgpu runs WGSL compute shaders through wgpu-native. The backend
// is only built with -tags webgpu; without the tag New reports that WebGPU
// support is not enabled.
//
// Arguments are reflected from the bind group 0 declarations the entry point
// uses: storage buffers bind device buffers and uniforms carry inline values.
// Pipeline constants replace matching override declarations before the
// module is compiled.
package webgpu

import "time"

// Options configures a WebGPU device. Zero values select the defaults.
type Options struct {
	// LowPower requests the low-power adapter instead of the
	// high-performance one
	LowPower bool

	// Validate compiles every specialized module with naga before handing
	// it to the driver, so WGSL errors are reported with naga's diagnostics
	Validate bool

	// BundleDir holds precompiled bundles as <name>.wgsl
	BundleDir string

	// ReadbackTimeout bounds the wait for submitted work and buffer
	// mapping, default 5s
	ReadbackTimeout time.Duration
}
