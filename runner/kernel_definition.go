package runner

import (
	"fmt"
	"sort"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// Pipeline is a compiled, specialized kernel together with the name to slot
// table reflected from it and the arguments staged for its next launch.
// The binding table never changes after construction.
type Pipeline struct {
	Function  ShaderFunction
	Arguments Arguments

	state      device.PipelineState
	bindings   map[string]int
	reflection builder.Reflection
}

// MakePipeline builds fn with the given constants and stages arguments.
// Constants are merged over the function's own constants.
func (kr *Runner) MakePipeline(fn ShaderFunction, constants, arguments Arguments) (*Pipeline, error) {
	if fn.Library == nil {
		return nil, fmt.Errorf("%w: function %s has no library", ErrConfiguration, fn.Name)
	}

	all := fn.Constants.Clone().Merge(constants)
	table := builder.NewConstantTable()
	for _, name := range all.Names() {
		if err := all[name].ToConstant(table, name); err != nil {
			return nil, fmt.Errorf("make pipeline %s: %w", fn.Name, err)
		}
	}

	state, refl, err := kr.Device.BuildPipeline(fn.Library.lib, fn.Name, table)
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %w", ErrResourceCreation, fn.Name, err)
	}
	if refl == nil {
		state.Release()
		return nil, fmt.Errorf("make pipeline %s: %w", fn.Name, ErrMissingReflection)
	}
	if err := refl.Validate(); err != nil {
		state.Release()
		return nil, fmt.Errorf("%w: pipeline %s: %w", ErrResourceCreation, fn.Name, err)
	}

	p := &Pipeline{
		Function:   fn,
		Arguments:  arguments.Clone(),
		state:      state,
		bindings:   refl.Slots(),
		reflection: append(builder.Reflection(nil), refl...),
	}
	sort.Slice(p.reflection, func(i, j int) bool { return p.reflection[i].Slot < p.reflection[j].Slot })

	slogger().Debug("pipeline built",
		"name", fn.Name,
		"constants", table.Names(),
		"bindings", len(p.bindings),
		"maxThreads", state.MaxThreadsPerGroup(),
		"executionWidth", state.ThreadExecutionWidth())
	return p, nil
}

// Name returns the entry point name
func (p *Pipeline) Name() string { return p.Function.Name }

// Bindings returns a copy of the name to slot table
func (p *Pipeline) Bindings() map[string]int {
	out := make(map[string]int, len(p.bindings))
	for name, slot := range p.bindings {
		out[name] = slot
	}
	return out
}

// Reflection returns the reflected arguments in slot order
func (p *Pipeline) Reflection() builder.Reflection {
	return append(builder.Reflection(nil), p.reflection...)
}

// HasBinding reports whether the kernel has a parameter called name
func (p *Pipeline) HasBinding(name string) bool {
	_, ok := p.bindings[name]
	return ok
}

// Slot returns the slot of the parameter called name
func (p *Pipeline) Slot(name string) (int, bool) {
	slot, ok := p.bindings[name]
	return slot, ok
}

// MaxThreadsPerGroup is the largest work-group the built pipeline accepts
func (p *Pipeline) MaxThreadsPerGroup() int { return p.state.MaxThreadsPerGroup() }

// ThreadExecutionWidth is the number of threads the device runs in lockstep
func (p *Pipeline) ThreadExecutionWidth() int { return p.state.ThreadExecutionWidth() }

// Free releases the device pipeline
func (p *Pipeline) Free() {
	p.state.Release()
}

// resolve checks every staged argument has a slot and every slot has an
// argument, and returns the arguments in slot order
func (p *Pipeline) resolve() ([]int, []Argument, error) {
	for _, name := range p.Arguments.Names() {
		if _, ok := p.bindings[name]; !ok {
			return nil, nil, &MissingBindingError{Name: name}
		}
	}
	slots := make([]int, 0, len(p.reflection))
	args := make([]Argument, 0, len(p.reflection))
	for _, b := range p.reflection {
		arg, ok := p.Arguments[b.Name]
		if !ok {
			return nil, nil, &MissingBindingError{Name: b.Name}
		}
		slots = append(slots, b.Slot)
		args = append(args, arg)
	}
	return slots, args, nil
}
