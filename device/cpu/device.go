// Package cpu is a host implementation of the compute device. It runs
// natively registered kernels with work-group semantics: threads of a group
// run in barrier-separated phases over shared scratch memory, and the groups
// of one dispatch run in parallel.
package cpu

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
	"golang.org/x/sys/cpu"
)

// Options configures the host device. Zero values select the defaults.
type Options struct {
	MaxThreadsPerGroup    int // default 1024
	MaxScratchBytes       int // default 32 KiB
	MaxGroupsPerDimension int // default 65535

	// UniformGroupsOnly rejects threads-per-grid dispatches whose grid is
	// not a multiple of the group size
	UniformGroupsOnly bool

	// Workers bounds the number of work-groups executing at once,
	// default GOMAXPROCS
	Workers int
}

// Device executes kernels on the host
type Device struct {
	opts     Options
	width    int
	isa      string
	released atomic.Bool
}

var _ device.Device = (*Device)(nil)

// New creates a host device
func New(opts Options) *Device {
	if opts.MaxThreadsPerGroup <= 0 {
		opts.MaxThreadsPerGroup = 1024
	}
	if opts.MaxScratchBytes <= 0 {
		opts.MaxScratchBytes = 32 * 1024
	}
	if opts.MaxGroupsPerDimension <= 0 {
		opts.MaxGroupsPerDimension = 65535
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	width, isa := executionWidth()
	device.Logger().Debug("cpu device created",
		"isa", isa, "width", width, "workers", opts.Workers)
	return &Device{opts: opts, width: width, isa: isa}
}

// executionWidth reports the SIMD lane count for 32-bit elements
func executionWidth() (int, string) {
	switch {
	case cpu.X86.HasAVX512F:
		return 16, "avx512"
	case cpu.X86.HasAVX2:
		return 8, "avx2"
	case cpu.ARM64.HasASIMD:
		return 4, "neon"
	default:
		return 4, "generic"
	}
}

func (d *Device) Name() string {
	return fmt.Sprintf("cpu (%s, %d workers)", d.isa, d.opts.Workers)
}

// Language reports Native: the host device runs registered Go kernels
func (d *Device) Language() builder.Language {
	return builder.Native
}

func (d *Device) Limits() device.Limits {
	return device.Limits{
		MaxThreadsPerGroup:    d.opts.MaxThreadsPerGroup,
		MaxScratchBytes:       d.opts.MaxScratchBytes,
		MaxGroupsPerDimension: d.opts.MaxGroupsPerDimension,
		NonUniformGroups:      !d.opts.UniformGroupsOnly,
	}
}

// CompileLibrary resolves a bundle of registered kernels. The host device
// cannot compile kernel source text.
func (d *Device) CompileLibrary(src builder.Source) (device.Library, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if !src.IsBundle() {
		return nil, fmt.Errorf("cpu device cannot compile %v source: %w", src.Language, device.ErrUnsupported)
	}
	kernels, ok := lookupBundle(src.Bundle)
	if !ok {
		return nil, fmt.Errorf("bundle %s is not registered", src.Bundle)
	}
	return &library{id: src.ID(), kernels: kernels}, nil
}

func (d *Device) BuildPipeline(lib device.Library, entry string,
	constants builder.ConstantTable) (device.PipelineState, builder.Reflection, error) {
	l, ok := lib.(*library)
	if !ok {
		return nil, nil, fmt.Errorf("library %s was not compiled by the cpu device", lib.ID())
	}
	k, ok := l.kernels[entry]
	if !ok {
		return nil, nil, fmt.Errorf("kernel %s not found in %s", entry, l.id)
	}

	p := &pipeline{
		kernel:     k,
		constants:  constants.Clone(),
		slots:      make(map[string]int, len(k.Params)),
		params:     make(map[int]*builder.ParamSpec, len(k.Params)),
		maxThreads: d.opts.MaxThreadsPerGroup,
		width:      d.width,
	}
	if k.MaxThreads > 0 && k.MaxThreads < p.maxThreads {
		p.maxThreads = k.MaxThreads
	}
	for i, param := range k.Params {
		if err := param.Spec.Validate(); err != nil {
			return nil, nil, fmt.Errorf("kernel %s: %w", entry, err)
		}
		if _, dup := p.slots[param.Spec.Name]; dup {
			return nil, nil, fmt.Errorf("kernel %s declares %s twice", entry, param.Spec.Name)
		}
		p.slots[param.Spec.Name] = i
		p.params[i] = &param.Spec
	}

	if k.HideReflection {
		return p, nil, nil
	}
	return p, builder.Reflect(k.Params), nil
}

func (d *Device) NewBuffer(length int) (device.Buffer, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative buffer length %d", length)
	}
	return &buffer{data: alignedBytes(length)}, nil
}

func (d *Device) NewTexture(desc device.TextureDescriptor) (device.Texture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &texture{desc: desc, data: alignedBytes(desc.Width * desc.Height * desc.TexelBytes())}, nil
}

func (d *Device) NewCommandBuffer(label string) (device.CommandBuffer, error) {
	if d.released.Load() {
		return nil, fmt.Errorf("cpu device has been released")
	}
	return &commandBuffer{dev: d, label: label}, nil
}

func (d *Device) Release() {
	d.released.Store(true)
}

// alignedBytes allocates n bytes aligned for any element type
func alignedBytes(n int) []byte {
	words := make([]uint64, (n+7)/8+1)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), n)
}
