//go:build webgpu

package webgpu

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gogpu/naga"
	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
	"github.com/openfluke/webgpu/wgpu"
)

const threadsConstant = "THREADS_PER_GROUP"

// Device is a wgpu device and its queue
type Device struct {
	opts     Options
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	limits   wgpu.Limits
	name     string
	released atomic.Bool
}

var _ device.Device = (*Device)(nil)

// New requests an adapter and opens a device on it
func New(opts Options) (*Device, error) {
	if opts.ReadbackTimeout <= 0 {
		opts.ReadbackTimeout = 5 * time.Second
	}

	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, errors.New("wgpu: CreateInstance returned nil")
	}
	pp := wgpu.PowerPreferenceHighPerformance
	if opts.LowPower {
		pp = wgpu.PowerPreferenceLowPower
	}
	ad, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: pp})
	if err != nil || ad == nil {
		inst.Release()
		return nil, fmt.Errorf("wgpu: request adapter: %v", err)
	}
	dev, err := ad.RequestDevice(&wgpu.DeviceDescriptor{})
	if err != nil || dev == nil {
		ad.Release()
		inst.Release()
		return nil, fmt.Errorf("wgpu: request device: %v", err)
	}

	info := ad.GetInfo()
	d := &Device{
		opts:     opts,
		instance: inst,
		adapter:  ad,
		device:   dev,
		queue:    dev.GetQueue(),
		limits:   ad.GetLimits().Limits,
		name:     info.Name,
	}
	device.Logger().Debug("webgpu device", "adapter", d.name,
		"maxInvocations", d.limits.MaxComputeInvocationsPerWorkgroup,
		"workgroupStorage", d.limits.MaxComputeWorkgroupStorageSize)
	return d, nil
}

func (d *Device) Name() string { return "webgpu " + d.name }

func (d *Device) Language() builder.Language { return builder.WGSL }

// Limits reports the adapter limits. WebGPU dispatches whole workgroups only.
func (d *Device) Limits() device.Limits {
	return device.Limits{
		MaxThreadsPerGroup:    d.maxThreads(),
		MaxScratchBytes:       int(d.limits.MaxComputeWorkgroupStorageSize),
		MaxGroupsPerDimension: int(d.limits.MaxComputeWorkgroupsPerDimension),
	}
}

// maxThreads is the largest 1-D workgroup the adapter accepts
func (d *Device) maxThreads() int {
	return int(min(d.limits.MaxComputeWorkgroupSizeX, d.limits.MaxComputeInvocationsPerWorkgroup))
}

type library struct {
	id  string
	src string
}

func (l *library) ID() string { return l.id }
func (l *library) Release()   {}

// CompileLibrary accepts WGSL text or a bundle. Modules are compiled per
// pipeline once their overrides are known.
func (d *Device) CompileLibrary(src builder.Source) (device.Library, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.IsBundle() {
		if d.opts.BundleDir == "" {
			return nil, fmt.Errorf("bundle %s requested but no bundle directory is set", src.Bundle)
		}
		text, err := os.ReadFile(filepath.Join(d.opts.BundleDir, src.Bundle+builder.WGSL.Extension()))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", src.Bundle, err)
		}
		return &library{id: src.ID(), src: string(text)}, nil
	}
	if src.Language != builder.WGSL {
		return nil, fmt.Errorf("webgpu device cannot compile %v source: %w", src.Language, device.ErrUnsupported)
	}
	return &library{id: src.ID(), src: src.Text}, nil
}

type pipeline struct {
	name       string
	pipeline   *wgpu.ComputePipeline
	layout     *wgpu.BindGroupLayout
	bindings   builder.Reflection
	fixedGroup int
	maxThreads int
}

func (p *pipeline) Name() string              { return p.name }
func (p *pipeline) MaxThreadsPerGroup() int   { return p.maxThreads }
func (p *pipeline) ThreadExecutionWidth() int { return 32 }

func (p *pipeline) Release() {
	p.layout.Release()
	p.pipeline.Release()
}

func (d *Device) BuildPipeline(lib device.Library, entry string,
	constants builder.ConstantTable) (device.PipelineState, builder.Reflection, error) {
	l, ok := lib.(*library)
	if !ok {
		return nil, nil, fmt.Errorf("library %s was not compiled by the webgpu device", lib.ID())
	}
	code, err := builder.SpecializeWGSL(l.src, constants)
	if err != nil {
		return nil, nil, err
	}
	if d.opts.Validate {
		if _, err := naga.Compile(code); err != nil {
			return nil, nil, fmt.Errorf("failed to compile shader %s: %w", entry, err)
		}
	}
	refl, err := builder.ParseWGSLBindings(code, entry)
	if err != nil {
		return nil, nil, err
	}

	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          entry,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("CreateShaderModule %s: %w", entry, err)
	}
	defer module.Release()

	cp, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: entry,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("CreateComputePipeline %s: %w", entry, err)
	}

	p := &pipeline{
		name:       entry,
		pipeline:   cp,
		layout:     cp.GetBindGroupLayout(0),
		bindings:   refl,
		maxThreads: d.maxThreads(),
	}
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
	return p, refl, nil
}

func (d *Device) NewBuffer(length int) (device.Buffer, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative buffer length %d", length)
	}
	// storage bindings and copies work in 4-byte units
	size := max(align4(length), 4)
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Size:  uint64(size),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer of %d bytes: %w", size, err)
	}
	return &buffer{dev: d, buf: buf, length: length}, nil
}

func (d *Device) NewTexture(desc device.TextureDescriptor) (device.Texture, error) {
	return nil, fmt.Errorf("webgpu device has no storage textures: %w", device.ErrUnsupported)
}

func (d *Device) NewCommandBuffer(label string) (device.CommandBuffer, error) {
	if d.released.Load() {
		return nil, errors.New("webgpu device has been released")
	}
	return &commandBuffer{dev: d, label: label}, nil
}

func (d *Device) Release() {
	if d.released.Swap(true) {
		return
	}
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}

// waitIdle polls until the queue has drained or the timeout passes
func (d *Device) waitIdle() error {
	deadline := time.Now().Add(d.opts.ReadbackTimeout)
	for !d.device.Poll(true, nil) {
		if time.Now().After(deadline) {
			return errors.New("timeout waiting for the queue")
		}
		time.Sleep(100 * time.Microsecond)
	}
	return nil
}

func align4(n int) int { return (n + 3) &^ 3 }
