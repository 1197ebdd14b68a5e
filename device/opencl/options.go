// Package opencl runs OpenCL C kernels. The backend needs the OpenCL ICD
// loader and is only built with -tags opencl; without the tag New reports
// that OpenCL support is not enabled.
//
// Kernel arguments are reflected from the __kernel signature. Pipeline
// constants are baked into the program as #define lines, so every pipeline
// builds its own program.
package opencl

// Options configures an OpenCL device. Zero values select the defaults.
type Options struct {
	// PreferCPU selects a CPU device even when a GPU is present
	PreferCPU bool

	// BundleDir holds precompiled bundles as <name>.cl
	BundleDir string

	// BuildOptions are passed to the OpenCL compiler
	BuildOptions string
}
