package occa

import (
	"errors"
	"fmt"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

type launch struct {
	pipeline *pipeline
	args     []any
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
	return &encoder{cmd: c}, nil
}

// SubmitAndWait runs the recorded kernels in order and waits for the device
func (c *commandBuffer) SubmitAndWait() error {
	if c.submitted {
		return fmt.Errorf("command buffer %s already submitted", c.label)
	}
	c.submitted = true
	if c.open {
		return fmt.Errorf("command buffer %s submitted with an open encoder", c.label)
	}
	for i, l := range c.launches {
		if err := l.pipeline.kernel.RunWithArgs(l.args...); err != nil {
			return fmt.Errorf("%s: kernel %d (%s) execution failed: %w", c.label, i, l.pipeline.name, err)
		}
	}
	c.dev.dev.Finish()
	return nil
}

type encoder struct {
	cmd      *commandBuffer
	pipeline *pipeline
	args     []any
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
		return fmt.Errorf("pipeline %s was not built by the occa device", p.Name())
	}
	e.pipeline = pp
	e.args = make([]any, pp.params)
	return nil
}

func (e *encoder) slot(slot int) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.pipeline == nil {
		return errors.New("argument set without a pipeline")
	}
	if slot < 0 || slot >= len(e.args) {
		return fmt.Errorf("slot %d outside %s parameter list", slot, e.pipeline.name)
	}
	return nil
}

// SetBytes passes a scalar by value. OCCA has no vector arguments.
func (e *encoder) SetBytes(slot int, dt builder.DataType, data []byte) error {
	if err := e.slot(slot); err != nil {
		return err
	}
	size := builder.SizeOfType(dt)
	if size == 0 || len(data) != size {
		if size > 0 && len(data)%size == 0 {
			return fmt.Errorf("slot %d: vector argument: %w", slot, device.ErrUnsupported)
		}
		return fmt.Errorf("slot %d: %d bytes of %v", slot, len(data), dt)
	}
	v := builder.Constant{DataType: dt, Width: 1, Data: data}.Element(0)
	switch dt {
	case builder.Float32:
		e.args[slot] = float32(v.(float64))
	case builder.Float64:
		e.args[slot] = v.(float64)
	case builder.INT64:
		e.args[slot] = v.(int64)
	case builder.UINT64:
		e.args[slot] = int64(v.(uint64))
	case builder.Bool:
		b := int32(0)
		if v.(bool) {
			b = 1
		}
		e.args[slot] = b
	default:
		// narrower integers travel as 32-bit, the bit pattern of
		// unsigned values is kept
		switch n := v.(type) {
		case int64:
			e.args[slot] = int32(n)
		case uint64:
			e.args[slot] = int32(uint32(n))
		}
	}
	return nil
}

func (e *encoder) SetBuffer(slot int, b device.Buffer, offset int) error {
	if err := e.slot(slot); err != nil {
		return err
	}
	bb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("slot %d: buffer was not allocated by the occa device", slot)
	}
	if offset != 0 {
		return fmt.Errorf("slot %d: buffer offset %d: %w", slot, offset, device.ErrUnsupported)
	}
	e.args[slot] = bb.mem
	return nil
}

func (e *encoder) SetTexture(slot int, t device.Texture) error {
	return fmt.Errorf("slot %d: textures: %w", slot, device.ErrUnsupported)
}

// SetScratch is unsupported: OKL kernels declare @shared memory statically
func (e *encoder) SetScratch(slot int, length int) error {
	return fmt.Errorf("slot %d: scratch arguments: %w", slot, device.ErrUnsupported)
}

func (e *encoder) DispatchThreads(threads, group device.Size) error {
	if err := e.check1D(threads, group); err != nil {
		return err
	}
	if !e.pipeline.threadCount {
		return fmt.Errorf("kernel %s has no %s parameter for a threads-per-grid launch: %w",
			e.pipeline.name, threadCountParam, device.ErrUnsupported)
	}
	groups := threads.CeilDiv(group)
	return e.record(int32(groups.X), int32(threads.X))
}

func (e *encoder) DispatchGroups(groups, group device.Size) error {
	if err := e.check1D(groups, group); err != nil {
		return err
	}
	if !e.pipeline.groupCount {
		return fmt.Errorf("kernel %s has no %s parameter: %w", e.pipeline.name, groupCountParam, device.ErrUnsupported)
	}
	if e.pipeline.threadCount {
		return e.record(int32(groups.X), int32(groups.X*group.X))
	}
	return e.record(int32(groups.X))
}

func (e *encoder) check1D(size, group device.Size) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.pipeline == nil {
		return errors.New("dispatch without a pipeline")
	}
	if size.Y != 1 || size.Z != 1 || group.Y != 1 || group.Z != 1 {
		return fmt.Errorf("dispatch %v of %v is not 1-D: %w", size, group, device.ErrUnsupported)
	}
	if f := e.pipeline.fixedGroup; f > 0 && group.X != f {
		return fmt.Errorf("kernel %s is built for groups of %d, got %d: %w",
			e.pipeline.name, f, group.X, device.ErrUnsupported)
	}
	return nil
}

func (e *encoder) record(launchArgs ...any) error {
	args := make([]any, 0, len(e.args)+len(launchArgs))
	for i, a := range e.args {
		if a == nil {
			return fmt.Errorf("kernel %s: slot %d not set", e.pipeline.name, i)
		}
		args = append(args, a)
	}
	args = append(args, launchArgs...)
	e.cmd.launches = append(e.cmd.launches, launch{pipeline: e.pipeline, args: args})
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
