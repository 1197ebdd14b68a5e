//go:build opencl

package opencl

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// argument is applied to the kernel object when the launch is enqueued,
// since one kernel object is shared by every launch of a pipeline
type argument struct {
	value   []byte
	buffer  *buffer
	scratch int
}

func (a argument) apply(p *pipeline, slot int) error {
	switch {
	case a.buffer != nil:
		return p.kernel.SetArgBuffer(slot, a.buffer.mem)
	case a.value != nil:
		return p.kernel.SetArgUnsafe(slot, len(a.value), unsafe.Pointer(&a.value[0]))
	default:
		return p.kernel.SetArgLocal(slot, a.scratch)
	}
}

type launch struct {
	pipeline *pipeline
	args     map[int]argument
	global   []int
	local    []int
}

type commandBuffer struct {
	dev       *Device
	label     string
	launches  []launch
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
	return &encoder{cmd: c, args: make(map[int]argument)}, nil
}

// SubmitAndWait enqueues the recorded launches on the in-order queue and
// waits for them to finish
func (c *commandBuffer) SubmitAndWait() error {
	if c.submitted {
		return fmt.Errorf("command buffer %s already submitted", c.label)
	}
	c.submitted = true
	if c.open {
		return fmt.Errorf("command buffer %s submitted with an open encoder", c.label)
	}
	q := c.dev.queue
	for i, l := range c.launches {
		for slot, a := range l.args {
			if err := a.apply(l.pipeline, slot); err != nil {
				return fmt.Errorf("%s: launch %d (%s) slot %d: %w", c.label, i, l.pipeline.name, slot, err)
			}
		}
		if _, err := q.EnqueueNDRangeKernel(l.pipeline.kernel, nil, l.global, l.local, nil); err != nil {
			return fmt.Errorf("%s: launch %d (%s): %w", c.label, i, l.pipeline.name, err)
		}
	}
	if err := q.Finish(); err != nil {
		return fmt.Errorf("%s: waiting for the queue: %w", c.label, err)
	}
	return nil
}

type encoder struct {
	cmd      *commandBuffer
	pipeline *pipeline
	args     map[int]argument
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
		return fmt.Errorf("pipeline %s was not built by the opencl device", p.Name())
	}
	e.pipeline = pp
	e.args = make(map[int]argument)
	return nil
}

func (e *encoder) SetBytes(slot int, dt builder.DataType, data []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("slot %d: empty %v value", slot, dt)
	}
	e.args[slot] = argument{value: append([]byte(nil), data...)}
	return nil
}

func (e *encoder) SetBuffer(slot int, b device.Buffer, offset int) error {
	if err := e.check(); err != nil {
		return err
	}
	bb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("slot %d: buffer was not allocated by the opencl device", slot)
	}
	if offset != 0 {
		return fmt.Errorf("slot %d: buffer offset %d: %w", slot, offset, device.ErrUnsupported)
	}
	e.args[slot] = argument{buffer: bb}
	return nil
}

func (e *encoder) SetTexture(slot int, t device.Texture) error {
	return fmt.Errorf("slot %d: textures: %w", slot, device.ErrUnsupported)
}

func (e *encoder) SetScratch(slot int, length int) error {
	if err := e.check(); err != nil {
		return err
	}
	if length <= 0 {
		return fmt.Errorf("slot %d: scratch length %d", slot, length)
	}
	e.args[slot] = argument{scratch: length}
	return nil
}

func (e *encoder) DispatchThreads(threads, group device.Size) error {
	if !threads.MultipleOf(group) {
		return fmt.Errorf("grid %v is not a multiple of group %v: %w", threads, group, device.ErrUnsupported)
	}
	return e.record(threads, group)
}

func (e *encoder) DispatchGroups(groups, group device.Size) error {
	return e.record(groups.Mul(group), group)
}

func (e *encoder) record(global, local device.Size) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.pipeline == nil {
		return errors.New("dispatch without a pipeline")
	}
	args := make(map[int]argument, len(e.args))
	for slot, a := range e.args {
		args[slot] = a
	}
	dims := 1
	switch {
	case global.Z > 1 || local.Z > 1:
		dims = 3
	case global.Y > 1 || local.Y > 1:
		dims = 2
	}
	e.cmd.launches = append(e.cmd.launches, launch{
		pipeline: e.pipeline,
		args:     args,
		global:   []int{global.X, global.Y, global.Z}[:dims],
		local:    []int{local.X, local.Y, local.Z}[:dims],
	})
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
