//go:build webgpu

package webgpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
	"github.com/openfluke/webgpu/wgpu"
)

// uniform blocks are sized in 16-byte steps
const uniformAlign = 16

type buffer struct {
	dev    *Device
	buf    *wgpu.Buffer
	length int
}

func (b *buffer) Length() int { return b.length }

func (b *buffer) bounds(op string, offset, n int) error {
	if b.buf == nil {
		return fmt.Errorf("%s on a released buffer", op)
	}
	if offset < 0 || offset+n > b.length {
		return fmt.Errorf("%s of %d bytes at %d exceeds buffer length %d", op, n, offset, b.length)
	}
	return nil
}

// Read copies into a mappable staging buffer and waits for the mapping.
// Copies move whole 32-bit words, so the window is widened to 4 bytes.
func (b *buffer) Read(offset int, dst []byte) error {
	if err := b.bounds("read", offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	start := offset &^ 3
	words, err := b.readWords(start, align4(offset+len(dst))-start)
	if err != nil {
		return err
	}
	copy(dst, words[offset-start:])
	return nil
}

func (b *buffer) readWords(offset, size int) ([]byte, error) {
	d := b.dev
	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %w", err)
	}
	defer staging.Destroy()

	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(b.buf, uint64(offset), staging, 0, uint64(size))
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %w", err)
	}
	d.queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, uint64(size), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %w", err)
	}

	timeout := time.After(d.opts.ReadbackTimeout)
wait:
	for {
		d.device.Poll(false, nil)
		select {
		case <-done:
			break wait
		case <-timeout:
			return nil, fmt.Errorf("buffer read timed out after %v", d.opts.ReadbackTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}

	mapped := staging.GetMappedRange(0, uint(size))
	if mapped == nil {
		return nil, errors.New("failed to get mapped range")
	}
	out := append([]byte(nil), mapped...)
	staging.Unmap()
	return out, nil
}

// Write goes through the queue. Unaligned edges are merged with the
// current contents first.
func (b *buffer) Write(offset int, src []byte) error {
	if err := b.bounds("write", offset, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	start := offset &^ 3
	end := align4(offset + len(src))
	data := src
	if start != offset || end != offset+len(src) {
		words, err := b.readWords(start, end-start)
		if err != nil {
			return err
		}
		copy(words[offset-start:], src)
		data = words
	}
	b.dev.queue.WriteBuffer(b.buf, uint64(start), data)
	return nil
}

func (b *buffer) Release() {
	if b.buf != nil {
		b.buf.Destroy()
		b.buf.Release()
		b.buf = nil
	}
}

// binding is one bind group entry captured at dispatch time
type binding struct {
	buffer *wgpu.Buffer
	size   uint64
}

type launch struct {
	pipeline *pipeline
	bindings map[int]binding
	groups   device.Size
}

type commandBuffer struct {
	dev       *Device
	label     string
	launches  []launch
	uniforms  []*wgpu.Buffer
	open      bool
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }

func (c *commandBuffer) BeginCompute() (device.Encoder, error) {
	if c.submitted {
		return nil, fmt.Errorf("command buffer %s already submitted", c.label)
	}
	if c.open {
		return nil, fmt.Errorf("command buffer %s has an open encoder", c.label)
	}
	c.open = true
	return &encoder{cmd: c, bindings: make(map[int]binding)}, nil
}

// SubmitAndWait encodes one compute pass per launch into a single command
// encoder, submits it and polls the device until the queue drains
func (c *commandBuffer) SubmitAndWait() error {
	if c.submitted {
		return fmt.Errorf("command buffer %s already submitted", c.label)
	}
	c.submitted = true
	defer c.releaseUniforms()
	if c.open {
		return fmt.Errorf("command buffer %s submitted with an open encoder", c.label)
	}
	if len(c.launches) == 0 {
		return nil
	}

	d := c.dev
	groups := make([]*wgpu.BindGroup, 0, len(c.launches))
	defer func() {
		for _, bg := range groups {
			bg.Release()
		}
	}()

	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create command encoder: %w", c.label, err)
	}
	for i, l := range c.launches {
		entries := make([]wgpu.BindGroupEntry, 0, len(l.bindings))
		for slot, b := range l.bindings {
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: uint32(slot),
				Buffer:  b.buffer,
				Size:    b.size,
			})
		}
		bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s/%d", c.label, i),
			Layout:  l.pipeline.layout,
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("%s: launch %d (%s): bind group: %w", c.label, i, l.pipeline.name, err)
		}
		groups = append(groups, bg)

		pass := enc.BeginComputePass(nil)
		pass.SetPipeline(l.pipeline.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.DispatchWorkgroups(uint32(l.groups.X), uint32(l.groups.Y), uint32(l.groups.Z))
		pass.End()
	}
	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("%s: failed to finish command: %w", c.label, err)
	}
	d.queue.Submit(cmd)
	if err := d.waitIdle(); err != nil {
		return fmt.Errorf("%s: %w", c.label, err)
	}
	return nil
}

func (c *commandBuffer) releaseUniforms() {
	for _, u := range c.uniforms {
		u.Destroy()
		u.Release()
	}
	c.uniforms = nil
}

type encoder struct {
	cmd      *commandBuffer
	pipeline *pipeline
	bindings map[int]binding
	ended    bool
}

func (e *encoder) check() error {
	if e.ended {
		return errors.New("encoder has ended")
	}
	return nil
}

func (e *encoder) SetPipeline(p device.PipelineState) error {
	if err := e.check(); err != nil {
		return err
	}
	pp, ok := p.(*pipeline)
	if !ok {
		return fmt.Errorf("pipeline %s was not built by the webgpu device", p.Name())
	}
	e.pipeline = pp
	e.bindings = make(map[int]binding)
	return nil
}

// SetBytes uploads the value into a uniform buffer owned by the command
// buffer
func (e *encoder) SetBytes(slot int, dt builder.DataType, data []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("slot %d: empty %v value", slot, dt)
	}
	size := (len(data) + uniformAlign - 1) / uniformAlign * uniformAlign
	contents := make([]byte, size)
	copy(contents, data)
	u, err := e.cmd.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    fmt.Sprintf("%s/uniform%d", e.cmd.label, slot),
		Contents: contents,
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("slot %d: uniform buffer: %w", slot, err)
	}
	e.cmd.uniforms = append(e.cmd.uniforms, u)
	e.bindings[slot] = binding{buffer: u, size: uint64(size)}
	return nil
}

func (e *encoder) SetBuffer(slot int, b device.Buffer, offset int) error {
	if err := e.check(); err != nil {
		return err
	}
	bb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("slot %d: buffer was not allocated by the webgpu device", slot)
	}
	if offset != 0 {
		return fmt.Errorf("slot %d: buffer offset %d: %w", slot, offset, device.ErrUnsupported)
	}
	e.bindings[slot] = binding{buffer: bb.buf, size: bb.buf.GetSize()}
	return nil
}

func (e *encoder) SetTexture(slot int, t device.Texture) error {
	return fmt.Errorf("slot %d: textures: %w", slot, device.ErrUnsupported)
}

// SetScratch is unsupported: WGSL declares workgroup memory in the module
func (e *encoder) SetScratch(slot int, length int) error {
	return fmt.Errorf("slot %d: scratch arguments: %w", slot, device.ErrUnsupported)
}

func (e *encoder) DispatchThreads(threads, group device.Size) error {
	if !threads.MultipleOf(group) {
		return fmt.Errorf("grid %v is not a multiple of group %v: %w", threads, group, device.ErrUnsupported)
	}
	return e.record(threads.CeilDiv(group), group)
}

func (e *encoder) DispatchGroups(groups, group device.Size) error {
	return e.record(groups, group)
}

func (e *encoder) record(groups, group device.Size) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.pipeline == nil {
		return errors.New("dispatch without a pipeline")
	}
	if f := e.pipeline.fixedGroup; f > 0 && (group.X != f || group.Y != 1 || group.Z != 1) {
		return fmt.Errorf("shader %s is built for groups of %d, got %v: %w",
			e.pipeline.name, f, group, device.ErrUnsupported)
	}
	for _, b := range e.pipeline.bindings {
		if _, ok := e.bindings[b.Slot]; !ok {
			return fmt.Errorf("shader %s: binding %d (%s) not set", e.pipeline.name, b.Slot, b.Name)
		}
	}
	bindings := make(map[int]binding, len(e.bindings))
	for slot, b := range e.bindings {
		bindings[slot] = b
	}
	e.cmd.launches = append(e.cmd.launches, launch{pipeline: e.pipeline, bindings: bindings, groups: groups})
	return nil
}

func (e *encoder) End() error {
	if e.ended {
		return errors.New("encoder already ended")
	}
	e.ended = true
	e.cmd.open = false
	return nil
}
