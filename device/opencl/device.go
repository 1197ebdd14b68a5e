//go:build opencl

package opencl

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// Device is an OpenCL context and in-order command queue on one device
type Device struct {
	opts     Options
	device   *cl.Device
	context  *cl.Context
	queue    *cl.CommandQueue
	released atomic.Bool
}

var _ device.Device = (*Device)(nil)

// New opens the first GPU, falling back to the first CPU device
func New(opts Options) (*Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available")
	}

	order := []cl.DeviceType{cl.DeviceTypeGPU, cl.DeviceTypeCPU}
	if opts.PreferCPU {
		order = []cl.DeviceType{cl.DeviceTypeCPU, cl.DeviceTypeGPU}
	}
	var dev *cl.Device
	for _, typ := range order {
		for _, p := range platforms {
			devices, derr := p.GetDevices(typ)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				dev = devices[0]
				break
			}
		}
		if dev != nil {
			break
		}
	}
	if dev == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	context, err := cl.CreateContext([]*cl.Device{dev})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	queue, err := context.CreateCommandQueue(dev, 0)
	if err != nil {
		context.Release()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	device.Logger().Debug("opencl device", "name", dev.Name(),
		"maxWorkGroup", dev.MaxWorkGroupSize(), "localMem", dev.LocalMemSize())
	return &Device{opts: opts, device: dev, context: context, queue: queue}, nil
}

func (d *Device) Name() string { return "opencl " + d.device.Name() }

func (d *Device) Language() builder.Language { return builder.OpenCL }

// Limits reports the device limits. OpenCL 1.2 needs the global size to be
// a multiple of the local size, so there are no non-uniform groups.
func (d *Device) Limits() device.Limits {
	return device.Limits{
		MaxThreadsPerGroup:    d.device.MaxWorkGroupSize(),
		MaxScratchBytes:       int(d.device.LocalMemSize()),
		MaxGroupsPerDimension: math.MaxInt32,
	}
}

type library struct {
	id  string
	src string
}

func (l *library) ID() string { return l.id }
func (l *library) Release()   {}

func (d *Device) CompileLibrary(src builder.Source) (device.Library, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.IsBundle() {
		if d.opts.BundleDir == "" {
			return nil, fmt.Errorf("bundle %s requested but no bundle directory is set", src.Bundle)
		}
		text, err := os.ReadFile(filepath.Join(d.opts.BundleDir, src.Bundle+builder.OpenCL.Extension()))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", src.Bundle, err)
		}
		return &library{id: src.ID(), src: string(text)}, nil
	}
	if src.Language != builder.OpenCL {
		return nil, fmt.Errorf("opencl device cannot compile %v source: %w", src.Language, device.ErrUnsupported)
	}
	return &library{id: src.ID(), src: src.Text}, nil
}

type pipeline struct {
	name       string
	program    *cl.Program
	kernel     *cl.Kernel
	maxThreads int
}

func (p *pipeline) Name() string              { return p.name }
func (p *pipeline) MaxThreadsPerGroup() int   { return p.maxThreads }
func (p *pipeline) ThreadExecutionWidth() int { return 32 }

func (p *pipeline) Release() {
	p.kernel.Release()
	p.program.Release()
}

func (d *Device) BuildPipeline(lib device.Library, entry string,
	constants builder.ConstantTable) (device.PipelineState, builder.Reflection, error) {
	l, ok := lib.(*library)
	if !ok {
		return nil, nil, fmt.Errorf("library %s was not compiled by the opencl device", lib.ID())
	}
	refl, err := builder.ParseKernelSignature(builder.OpenCL, l.src, entry)
	if err != nil {
		return nil, nil, err
	}
	preamble, err := builder.GeneratePreamble(builder.OpenCL, constants)
	if err != nil {
		return nil, nil, err
	}

	program, err := d.context.CreateProgramWithSource([]string{preamble + "\n" + l.src})
	if err != nil {
		return nil, nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := program.BuildProgram([]*cl.Device{d.device}, d.opts.BuildOptions); err != nil {
		program.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, nil, fmt.Errorf("building OpenCL program: %w", err)
	}
	kernel, err := program.CreateKernel(entry)
	if err != nil {
		program.Release()
		return nil, nil, fmt.Errorf("creating OpenCL kernel %s: %w", entry, err)
	}
	return &pipeline{
		name:       entry,
		program:    program,
		kernel:     kernel,
		maxThreads: d.device.MaxWorkGroupSize(),
	}, refl, nil
}

func (d *Device) NewBuffer(length int) (device.Buffer, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative buffer length %d", length)
	}
	size := max(length, 4)
	mem, err := d.context.CreateEmptyBuffer(cl.MemReadWrite, size)
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL buffer of %d bytes: %w", size, err)
	}
	zero := make([]byte, size)
	if _, err := d.queue.EnqueueWriteBuffer(mem, true, 0, size, unsafe.Pointer(&zero[0]), nil); err != nil {
		mem.Release()
		return nil, fmt.Errorf("clearing OpenCL buffer: %w", err)
	}
	return &buffer{dev: d, mem: mem, length: length}, nil
}

func (d *Device) NewTexture(desc device.TextureDescriptor) (device.Texture, error) {
	return nil, fmt.Errorf("opencl device has no textures: %w", device.ErrUnsupported)
}

func (d *Device) NewCommandBuffer(label string) (device.CommandBuffer, error) {
	if d.released.Load() {
		return nil, errors.New("opencl device has been released")
	}
	return &commandBuffer{dev: d, label: label}, nil
}

func (d *Device) Release() {
	if d.released.Swap(true) {
		return
	}
	d.queue.Release()
	d.context.Release()
}

type buffer struct {
	dev    *Device
	mem    *cl.MemObject
	length int
}

func (b *buffer) Length() int { return b.length }

func (b *buffer) Read(offset int, dst []byte) error {
	if offset < 0 || offset+len(dst) > b.length {
		return fmt.Errorf("read of %d bytes at %d exceeds buffer length %d", len(dst), offset, b.length)
	}
	if len(dst) == 0 {
		return nil
	}
	if _, err := b.dev.queue.EnqueueReadBuffer(b.mem, true, offset, len(dst), unsafe.Pointer(&dst[0]), nil); err != nil {
		return fmt.Errorf("reading OpenCL buffer: %w", err)
	}
	return nil
}

func (b *buffer) Write(offset int, src []byte) error {
	if offset < 0 || offset+len(src) > b.length {
		return fmt.Errorf("write of %d bytes at %d exceeds buffer length %d", len(src), offset, b.length)
	}
	if len(src) == 0 {
		return nil
	}
	if _, err := b.dev.queue.EnqueueWriteBuffer(b.mem, true, offset, len(src), unsafe.Pointer(&src[0]), nil); err != nil {
		return fmt.Errorf("writing OpenCL buffer: %w", err)
	}
	return nil
}

func (b *buffer) Release() {
	if b.mem != nil {
		b.mem.Release()
		b.mem = nil
	}
}
