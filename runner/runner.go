package runner

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// Runner builds pipelines on a device and executes them in tasks
type Runner struct {
	Device device.Device

	mu        sync.Mutex
	libraries map[string]*Library

	tasks    atomic.Int64
	launches atomic.Int64
}

// Stats counts the work a runner has submitted
type Stats struct {
	Tasks    int64
	Launches int64
}

// NewRunner creates a new Runner on dev
func NewRunner(dev device.Device) *Runner {
	slogger().Debug("runner created", "device", dev.Name())
	return &Runner{
		Device:    dev,
		libraries: make(map[string]*Library),
	}
}

// Limits returns the device limits
func (kr *Runner) Limits() device.Limits {
	return kr.Device.Limits()
}

// Stats returns the number of tasks submitted and kernels launched
func (kr *Runner) Stats() Stats {
	return Stats{Tasks: kr.tasks.Load(), Launches: kr.launches.Load()}
}

// Library is a compiled kernel program
type Library struct {
	Source builder.Source
	lib    device.Library
}

// ID returns the identity of the source the library was compiled from
func (l *Library) ID() string { return l.lib.ID() }

// ShaderFunction names an entry point of a library, with constants applied
// to every pipeline built from it
type ShaderFunction struct {
	Library   *Library
	Name      string
	Constants Arguments
}

// Function returns the named entry point
func (l *Library) Function(name string, constants ...Arguments) ShaderFunction {
	fn := ShaderFunction{Library: l, Name: name, Constants: NewArguments()}
	for _, c := range constants {
		fn.Constants.Merge(c)
	}
	return fn
}

// Library compiles src, or returns the library already compiled from a
// source with the same identity
func (kr *Runner) Library(src builder.Source) (*Library, error) {
	id := src.ID()

	kr.mu.Lock()
	defer kr.mu.Unlock()

	if lib, ok := kr.libraries[id]; ok {
		return lib, nil
	}
	dl, err := kr.Device.CompileLibrary(src)
	if err != nil {
		return nil, fmt.Errorf("%w: library %s: %w", ErrResourceCreation, id, err)
	}
	lib := &Library{Source: src, lib: dl}
	kr.libraries[id] = lib
	slogger().Debug("library compiled", "id", id)
	return lib, nil
}

// Function compiles src if needed and returns its entry point name
func (kr *Runner) Function(src builder.Source, name string, constants ...Arguments) (ShaderFunction, error) {
	lib, err := kr.Library(src)
	if err != nil {
		return ShaderFunction{}, err
	}
	return lib.Function(name, constants...), nil
}

// Free releases the compiled libraries. Pipelines and buffers are released
// by their owners.
func (kr *Runner) Free() {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	for id, lib := range kr.libraries {
		lib.lib.Release()
		delete(kr.libraries, id)
	}
}
