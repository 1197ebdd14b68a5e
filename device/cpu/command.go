package cpu

import (
	"errors"
	"fmt"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
	"golang.org/x/sync/errgroup"
)

type argument struct {
	kind    builder.BindingKind
	dtype   builder.DataType
	data    []byte
	buffer  *buffer
	offset  int
	texture *texture
	scratch int
}

type dispatch struct {
	pipeline *pipeline
	args     map[int]argument
	groups   device.Size
	group    device.Size
	grid     device.Size
}

type commandBuffer struct {
	dev        *Device
	label      string
	encoders   []*encoder
	dispatches []*dispatch
	submitted  bool
}

func (c *commandBuffer) Label() string { return c.label }

func (c *commandBuffer) BeginCompute() (device.Encoder, error) {
	if c.submitted {
		return nil, fmt.Errorf("command buffer %s already submitted", c.label)
	}
	for _, e := range c.encoders {
		if !e.ended {
			return nil, fmt.Errorf("command buffer %s has an open encoder", c.label)
		}
	}
	e := &encoder{cmd: c, args: make(map[int]argument)}
	c.encoders = append(c.encoders, e)
	return e, nil
}

// SubmitAndWait executes the recorded dispatches in order. Each dispatch
// completes before the next one starts.
func (c *commandBuffer) SubmitAndWait() error {
	if c.submitted {
		return fmt.Errorf("command buffer %s already submitted", c.label)
	}
	c.submitted = true
	for _, e := range c.encoders {
		if !e.ended {
			return fmt.Errorf("command buffer %s submitted with an open encoder", c.label)
		}
	}
	for i, d := range c.dispatches {
		if err := d.run(c.dev.opts.Workers); err != nil {
			return fmt.Errorf("%s: dispatch %d (%s): %w", c.label, i, d.pipeline.Name(), err)
		}
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
		return fmt.Errorf("pipeline %s was not built by the cpu device", p.Name())
	}
	e.pipeline = pp
	return nil
}

func (e *encoder) SetBytes(slot int, dt builder.DataType, data []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	e.args[slot] = argument{kind: builder.BindingValue, dtype: dt, data: append([]byte(nil), data...)}
	return nil
}

func (e *encoder) SetBuffer(slot int, b device.Buffer, offset int) error {
	if err := e.check(); err != nil {
		return err
	}
	bb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("slot %d: buffer was not allocated by the cpu device", slot)
	}
	if offset < 0 || offset > len(bb.data) {
		return fmt.Errorf("slot %d: offset %d outside buffer of %d bytes", slot, offset, len(bb.data))
	}
	e.args[slot] = argument{kind: builder.BindingBuffer, buffer: bb, offset: offset}
	return nil
}

func (e *encoder) SetTexture(slot int, t device.Texture) error {
	if err := e.check(); err != nil {
		return err
	}
	tt, ok := t.(*texture)
	if !ok {
		return fmt.Errorf("slot %d: texture was not allocated by the cpu device", slot)
	}
	e.args[slot] = argument{kind: builder.BindingTexture, texture: tt}
	return nil
}

func (e *encoder) SetScratch(slot int, length int) error {
	if err := e.check(); err != nil {
		return err
	}
	if length < 0 {
		return fmt.Errorf("slot %d: negative scratch length %d", slot, length)
	}
	e.args[slot] = argument{kind: builder.BindingScratch, scratch: length}
	return nil
}

func (e *encoder) DispatchThreads(threads, group device.Size) error {
	if !threads.MultipleOf(group) && e.cmd.dev.opts.UniformGroupsOnly {
		return fmt.Errorf("grid %v is not a multiple of group %v: %w", threads, group, device.ErrUnsupported)
	}
	return e.record(threads.CeilDiv(group), group, threads)
}

func (e *encoder) DispatchGroups(groups, group device.Size) error {
	return e.record(groups, group, groups.Mul(group))
}

func (e *encoder) record(groups, group, grid device.Size) error {
	if err := e.check(); err != nil {
		return err
	}
	if e.pipeline == nil {
		return errors.New("dispatch without a pipeline")
	}
	if group.Empty() || groups.Empty() {
		return fmt.Errorf("empty dispatch of %v groups of %v", groups, group)
	}
	if n := group.Count(); n > e.pipeline.maxThreads {
		return fmt.Errorf("group of %d threads exceeds pipeline limit %d", n, e.pipeline.maxThreads)
	}
	limit := e.cmd.dev.opts.MaxGroupsPerDimension
	if groups.X > limit || groups.Y > limit || groups.Z > limit {
		return fmt.Errorf("group grid %v exceeds %d groups per dimension", groups, limit)
	}

	args := make(map[int]argument, len(e.args))
	scratch := 0
	for slot, a := range e.args {
		args[slot] = a
		scratch += a.scratch
	}
	if scratch > e.cmd.dev.opts.MaxScratchBytes {
		return fmt.Errorf("scratch of %d bytes exceeds device limit %d", scratch, e.cmd.dev.opts.MaxScratchBytes)
	}

	e.cmd.dispatches = append(e.cmd.dispatches, &dispatch{
		pipeline: e.pipeline,
		args:     args,
		groups:   groups,
		group:    group,
		grid:     grid,
	})
	return nil
}

func (e *encoder) End() error {
	if e.ended {
		return errors.New("encoder already ended")
	}
	e.ended = true
	return nil
}

func (d *dispatch) run(workers int) error {
	var eg errgroup.Group
	eg.SetLimit(workers)
	for z := 0; z < d.groups.Z; z++ {
		for y := 0; y < d.groups.Y; y++ {
			for x := 0; x < d.groups.X; x++ {
				id := device.Size{X: x, Y: y, Z: z}
				eg.Go(func() error {
					return d.runGroup(id)
				})
			}
		}
	}
	return eg.Wait()
}

func (d *dispatch) runGroup(id device.Size) (err error) {
	g := &Group{
		ID:       id,
		Groups:   d.groups,
		Size:     d.group,
		Grid:     d.grid,
		dispatch: d,
		scratch:  make(map[int][]byte),
	}
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(fault); ok {
				err = fmt.Errorf("group %v: %w", id, f.err)
				return
			}
			err = fmt.Errorf("group %v: kernel panic: %v", id, r)
		}
	}()
	if err := d.pipeline.kernel.Func(g); err != nil {
		return fmt.Errorf("group %v: %w", id, err)
	}
	return nil
}
