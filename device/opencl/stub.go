//go:build !opencl

package opencl

import (
	"errors"

	"github.com/notargets/ComputeKernel/device"
)

// New reports that the package was built without OpenCL support
func New(opts Options) (device.Device, error) {
	return nil, errors.New("OpenCL support is not enabled; rebuild with -tags opencl")
}
