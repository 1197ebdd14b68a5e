package utils

import (
	"fmt"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/device/cpu"
	"github.com/notargets/ComputeKernel/device/occa"
	"github.com/notargets/ComputeKernel/device/opencl"
	"github.com/notargets/ComputeKernel/device/webgpu"
	"github.com/notargets/ComputeKernel/runner"
)

// Backends lists the names NewDevice accepts
var Backends = []string{"cpu", "occa", "opencl", "webgpu"}

// CreateTestDevice creates the in-process device used by tests
func CreateTestDevice(opts ...cpu.Options) *cpu.Device {
	var o cpu.Options
	if len(opts) > 0 {
		o = opts[0]
	}
	return cpu.New(o)
}

// CreateOCCADevice creates an OCCA device, preferring parallel backends
func CreateOCCADevice() (*occa.Device, error) {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}

	var lastErr error
	for _, props := range backends {
		dev, err := occa.New(occa.Options{Properties: props})
		if err == nil {
			runner.Logger().Info("created OCCA device", "mode", dev.Mode())
			return dev, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to create any OCCA device: %w", lastErr)
}

// NewDevice opens a device by backend name
func NewDevice(kind string) (device.Device, error) {
	switch kind {
	case "cpu", "":
		return CreateTestDevice(), nil
	case "occa":
		dev, err := CreateOCCADevice()
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "opencl":
		dev, err := opencl.New(opencl.Options{})
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "webgpu":
		dev, err := webgpu.New(webgpu.Options{})
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown backend %q, want one of %v", kind, Backends)
	}
}
