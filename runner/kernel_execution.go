package runner

import (
	"errors"
	"fmt"

	"github.com/notargets/ComputeKernel/device"
)

// Task owns one command buffer for the duration of a callback. Everything
// dispatched inside the callback is submitted together when it returns and
// the task waits for the device to finish.
type Task struct {
	runner    *Runner
	cmd       device.CommandBuffer
	launches  int
	submitted bool
}

// Dispatcher owns one open compute encoder inside a task
type Dispatcher struct {
	task *Task
	enc  device.Encoder
}

// Task runs fn with a fresh command buffer, then submits it and blocks
// until the device completes. Submission happens even if fn fails or
// panics; fn's error takes precedence over a submission error.
func (kr *Runner) Task(label string, fn func(t *Task) error) (err error) {
	cmd, err := kr.Device.NewCommandBuffer(label)
	if err != nil {
		return fmt.Errorf("%w: command buffer %s: %w", ErrResourceCreation, label, err)
	}
	t := &Task{runner: kr, cmd: cmd}
	defer func() {
		if serr := t.submit(); err == nil && serr != nil {
			err = serr
		}
	}()
	return fn(t)
}

// WithTask is Task for callbacks that produce a value
func WithTask[R any](kr *Runner, label string, fn func(t *Task) (R, error)) (R, error) {
	var result R
	err := kr.Task(label, func(t *Task) error {
		var err error
		result, err = fn(t)
		return err
	})
	return result, err
}

func (t *Task) submit() error {
	if t.submitted {
		return nil
	}
	t.submitted = true
	t.runner.tasks.Add(1)
	slogger().Debug("task submit", "label", t.cmd.Label(), "launches", t.launches)
	if err := t.cmd.SubmitAndWait(); err != nil {
		return fmt.Errorf("task %s: %w", t.cmd.Label(), err)
	}
	return nil
}

// Label returns the command buffer label
func (t *Task) Label() string { return t.cmd.Label() }

// Launches returns the number of kernels recorded so far
func (t *Task) Launches() int { return t.launches }

// Run opens a dispatcher for fn. The encoder is closed when fn returns,
// whether or not it failed.
func (t *Task) Run(fn func(d *Dispatcher) error) (err error) {
	if t.submitted {
		return ErrTaskSubmitted
	}
	enc, err := t.cmd.BeginCompute()
	if err != nil {
		return fmt.Errorf("%w: encoder for %s: %w", ErrResourceCreation, t.cmd.Label(), err)
	}
	defer func() {
		if eerr := enc.End(); err == nil && eerr != nil {
			err = fmt.Errorf("end encoder for %s: %w", t.cmd.Label(), eerr)
		}
	}()
	return fn(&Dispatcher{task: t, enc: enc})
}

// RunTask is Task.Run for callbacks that produce a value
func RunTask[R any](t *Task, fn func(d *Dispatcher) (R, error)) (R, error) {
	var result R
	err := t.Run(func(d *Dispatcher) error {
		var err error
		result, err = fn(d)
		return err
	})
	return result, err
}

// Dispatch is a task with a single dispatcher
func (kr *Runner) Dispatch(label string, fn func(d *Dispatcher) error) error {
	return kr.Task(label, func(t *Task) error {
		return t.Run(fn)
	})
}

// DispatchThreads launches exactly threads invocations of p in groups of
// group. Threads outside the grid never run; the last group in a dimension
// is partial when the grid is not a multiple of the group.
func (d *Dispatcher) DispatchThreads(p *Pipeline, threads, group device.Size) error {
	return d.launch(p, threads, group, true)
}

// DispatchGroups launches groups work-groups of p, each of group threads.
// Kernels guard their own bounds.
func (d *Dispatcher) DispatchGroups(p *Pipeline, groups, group device.Size) error {
	return d.launch(p, groups, group, false)
}

func (d *Dispatcher) launch(p *Pipeline, size, group device.Size, threads bool) error {
	if d.task.submitted {
		return ErrTaskSubmitted
	}
	if size.Empty() || group.Empty() {
		return fmt.Errorf("%w: dispatch %s of %v with group %v", ErrConfiguration, p.Name(), size, group)
	}

	slots, args, err := p.resolve()
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", p.Name(), err)
	}

	if n := group.Count(); n > p.MaxThreadsPerGroup() {
		return fmt.Errorf("%w: group of %d threads exceeds %s limit %d",
			ErrConfiguration, n, p.Name(), p.MaxThreadsPerGroup())
	}
	limits := d.task.runner.Device.Limits()
	if threads && !size.MultipleOf(group) && !limits.NonUniformGroups {
		return fmt.Errorf("%w: grid %v is not a multiple of group %v and the device has no non-uniform groups",
			ErrUnsupportedCapability, size, group)
	}

	if err := d.enc.SetPipeline(p.state); err != nil {
		return fmt.Errorf("dispatch %s: %w", p.Name(), err)
	}
	for i, arg := range args {
		if err := arg.Encode(d.enc, slots[i]); err != nil {
			return fmt.Errorf("dispatch %s: slot %d: %w", p.Name(), slots[i], deviceError(err))
		}
	}

	if threads {
		err = d.enc.DispatchThreads(size, group)
	} else {
		err = d.enc.DispatchGroups(size, group)
	}
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", p.Name(), deviceError(err))
	}

	d.task.launches++
	d.task.runner.launches.Add(1)
	slogger().Debug("dispatch",
		"pipeline", p.Name(),
		"threadsPerGrid", threads,
		"size", size.String(),
		"group", group.String(),
		"maxThreads", p.MaxThreadsPerGroup(),
		"executionWidth", p.ThreadExecutionWidth())
	return nil
}

// deviceError tags backend capability failures with ErrUnsupportedCapability
func deviceError(err error) error {
	if errors.Is(err, device.ErrUnsupported) {
		return fmt.Errorf("%w: %w", ErrUnsupportedCapability, err)
	}
	return err
}
