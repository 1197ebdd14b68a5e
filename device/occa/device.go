// Package occa runs OKL kernels through the OCCA runtime (Serial, OpenMP,
// CUDA, HIP ...).
//
// OCCA kernels express their work-groups as @outer loops and their threads
// as @inner loops, so the loop extents come from kernel arguments. A kernel
// used with DispatchGroups ends its parameter list with
//
//	const int groupCount
//
// and one used with DispatchThreads additionally with
//
//	const int threadCount
//
// The device fills those in at launch; they are not part of the reflected
// argument list. Pipeline constants are baked into the source as #define
// lines, the same way the kernel preamble carries them.
package occa

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
	"github.com/notargets/gocca"
)

const (
	groupCountParam  = "groupCount"
	threadCountParam = "threadCount"
	threadsConstant  = "THREADS_PER_GROUP"
)

// Options configures an OCCA device. Zero values select the defaults.
type Options struct {
	// Properties is the JSON device description passed to OCCA,
	// default {"mode": "Serial"}
	Properties string

	// BundleDir holds precompiled bundles as <name>.okl
	BundleDir string

	MaxThreadsPerGroup int // default 1024
	MaxScratchBytes    int // default 48 KiB
}

// Device wraps an OCCA device
type Device struct {
	dev      *gocca.OCCADevice
	opts     Options
	owned    bool
	released atomic.Bool
}

var _ device.Device = (*Device)(nil)

// New creates the OCCA device described by opts.Properties
func New(opts Options) (*Device, error) {
	if opts.Properties == "" {
		opts.Properties = `{"mode": "Serial"}`
	}
	dev, err := gocca.NewDevice(opts.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCCA device %s: %w", opts.Properties, err)
	}
	d := Wrap(dev, opts)
	d.owned = true
	return d, nil
}

// Wrap uses an existing OCCA device. Release does not free a wrapped device.
func Wrap(dev *gocca.OCCADevice, opts Options) *Device {
	if opts.MaxThreadsPerGroup <= 0 {
		opts.MaxThreadsPerGroup = 1024
	}
	if opts.MaxScratchBytes <= 0 {
		opts.MaxScratchBytes = 48 * 1024
	}
	device.Logger().Debug("occa device", "mode", dev.Mode())
	return &Device{dev: dev, opts: opts}
}

// Mode returns the OCCA backend mode, e.g. "Serial" or "CUDA"
func (d *Device) Mode() string { return d.dev.Mode() }

func (d *Device) Name() string { return "occa " + d.dev.Mode() }

func (d *Device) Language() builder.Language { return builder.OKL }

func (d *Device) Limits() device.Limits {
	return device.Limits{
		MaxThreadsPerGroup:    d.opts.MaxThreadsPerGroup,
		MaxScratchBytes:       d.opts.MaxScratchBytes,
		MaxGroupsPerDimension: math.MaxInt32,
		NonUniformGroups:      true,
	}
}

// executionWidth is the number of threads the backend schedules in lockstep
func (d *Device) executionWidth() int {
	switch d.dev.Mode() {
	case "CUDA":
		return 32
	case "HIP":
		return 64
	default:
		return 1
	}
}

type library struct {
	id  string
	src string
}

func (l *library) ID() string { return l.id }
func (l *library) Release()   {}

// CompileLibrary accepts OKL text or the name of a bundle in BundleDir.
// OCCA compiles per kernel, so the source is only checked here and built
// in BuildPipeline.
func (d *Device) CompileLibrary(src builder.Source) (device.Library, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.IsBundle() {
		if d.opts.BundleDir == "" {
			return nil, fmt.Errorf("bundle %s requested but no bundle directory is set", src.Bundle)
		}
		path := filepath.Join(d.opts.BundleDir, src.Bundle+builder.OKL.Extension())
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", src.Bundle, err)
		}
		return &library{id: src.ID(), src: string(text)}, nil
	}
	if src.Language != builder.OKL {
		return nil, fmt.Errorf("occa device cannot compile %v source: %w", src.Language, device.ErrUnsupported)
	}
	return &library{id: src.ID(), src: src.Text}, nil
}

type pipeline struct {
	name        string
	kernel      *gocca.OCCAKernel
	params      int
	groupCount  bool
	threadCount bool
	fixedGroup  int
	maxThreads  int
	width       int
}

func (p *pipeline) Name() string              { return p.name }
func (p *pipeline) MaxThreadsPerGroup() int   { return p.maxThreads }
func (p *pipeline) ThreadExecutionWidth() int { return p.width }
func (p *pipeline) Release()                  { p.kernel.Free() }

// BuildPipeline prepends the constants as #defines and builds entry. The
// reflection is parsed from the @kernel signature.
func (d *Device) BuildPipeline(lib device.Library, entry string,
	constants builder.ConstantTable) (device.PipelineState, builder.Reflection, error) {
	l, ok := lib.(*library)
	if !ok {
		return nil, nil, fmt.Errorf("library %s was not compiled by the occa device", lib.ID())
	}

	refl, err := builder.ParseKernelSignature(builder.OKL, l.src, entry)
	if err != nil {
		return nil, nil, err
	}
	p := &pipeline{name: entry, maxThreads: d.opts.MaxThreadsPerGroup, width: d.executionWidth()}
	if refl, p.groupCount, p.threadCount, err = splitLaunchParams(refl); err != nil {
		return nil, nil, fmt.Errorf("kernel %s: %w", entry, err)
	}
	p.params = len(refl)

	if c, ok := constants[threadsConstant]; ok {
		switch v := c.Element(0).(type) {
		case int64:
			p.fixedGroup = int(v)
		case uint64:
			p.fixedGroup = int(v)
		}
		if p.fixedGroup > 0 && p.fixedGroup < p.maxThreads {
			p.maxThreads = p.fixedGroup
		}
	}

	preamble, err := builder.GeneratePreamble(builder.OKL, constants)
	if err != nil {
		return nil, nil, err
	}
	fullSource := preamble + "\n" + l.src

	if d.dev.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		p.kernel, err = d.dev.BuildKernelFromString(fullSource, entry, props)
	} else {
		p.kernel, err = d.dev.BuildKernelFromString(fullSource, entry, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build kernel %s: %w", entry, err)
	}
	if p.kernel == nil {
		return nil, nil, fmt.Errorf("kernel build returned nil for %s", entry)
	}
	return p, refl, nil
}

// splitLaunchParams removes the trailing launch-size parameters from a
// reflected signature
func splitLaunchParams(refl builder.Reflection) (builder.Reflection, bool, bool, error) {
	var groups, threads bool
	if n := len(refl); n > 0 && refl[n-1].Name == threadCountParam {
		threads = true
		refl = refl[:n-1]
	}
	if n := len(refl); n > 0 && refl[n-1].Name == groupCountParam {
		groups = true
		refl = refl[:n-1]
	}
	for _, b := range refl {
		if b.Name == groupCountParam || b.Name == threadCountParam {
			return nil, false, false, fmt.Errorf("%s must be a trailing parameter", b.Name)
		}
		if b.Kind != builder.BindingBuffer && b.Kind != builder.BindingValue {
			return nil, false, false, fmt.Errorf("parameter %s: %w", b.Name, device.ErrUnsupported)
		}
	}
	if threads && !groups {
		return nil, false, false, fmt.Errorf("%s needs a preceding %s", threadCountParam, groupCountParam)
	}
	return refl, groups, threads, nil
}

func (d *Device) NewBuffer(length int) (device.Buffer, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative buffer length %d", length)
	}
	// OCCA rejects empty allocations
	bytes := max(length, 4)
	mem := d.dev.Malloc(int64(bytes), nil, nil)
	if mem == nil {
		return nil, fmt.Errorf("failed to allocate %d bytes", bytes)
	}
	zero := make([]byte, bytes)
	mem.CopyFrom(unsafe.Pointer(&zero[0]), int64(bytes))
	return &buffer{mem: mem, length: length}, nil
}

func (d *Device) NewTexture(desc device.TextureDescriptor) (device.Texture, error) {
	return nil, fmt.Errorf("occa device has no textures: %w", device.ErrUnsupported)
}

func (d *Device) NewCommandBuffer(label string) (device.CommandBuffer, error) {
	if d.released.Load() {
		return nil, fmt.Errorf("occa device has been released")
	}
	return &commandBuffer{dev: d, label: label}, nil
}

// Release frees the OCCA device if New created it
func (d *Device) Release() {
	if d.released.Swap(true) {
		return
	}
	if d.owned {
		d.dev.Free()
	}
}
