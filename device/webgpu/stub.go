//go:build !webgpu

package webgpu

import (
	"errors"

	"github.com/notargets/ComputeKernel/device"
)

// New reports that the package was built without WebGPU support
func New(opts Options) (device.Device, error) {
	return nil, errors.New("WebGPU support is not enabled; rebuild with -tags webgpu")
}
