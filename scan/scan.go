// Package scan computes prefix sums of uint32 arrays on a compute device
// with a recursive, multi-level work-efficient (Blelloch) scan.
//
// Each work-group scans one block of 2*ThreadsPerGroup elements and writes
// the block total to a block-sums array. The block sums are scanned the same
// way, one level down, until a single block remains; the scanned sums are
// then added back into every level on the way up.
package scan

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// Config configures an Engine. Zero values select the defaults.
type Config struct {
	// ThreadsPerGroup must be a power of two, default 256. Each group scans
	// twice that many elements.
	ThreadsPerGroup int

	// MaxGroupsPerDimension bounds the group grid in each dimension, default
	// the device limit. Block counts above it fold into a 2-D grid.
	MaxGroupsPerDimension int

	// Source overrides the kernels chosen for the device language
	Source builder.Source
}

// Engine scans uint32 buffers. The two pipelines are built once and reused
// by every level of every scan. An Engine is not safe for concurrent use:
// scans share the pipelines' staged arguments.
type Engine struct {
	kr      *runner.Runner
	threads int
	items   int
	maxDim  int

	scanP *runner.Pipeline
	addP  *runner.Pipeline
}

// Pass is one level of the recursive decomposition. Level 0 scans the input;
// level k scans the block sums of level k-1.
type Pass struct {
	Level     int
	Count     int
	Blocks    int
	Groups    device.Size
	Inclusive bool
}

// New builds the scan pipelines on kr's device
func New(kr *runner.Runner, cfg Config) (*Engine, error) {
	if cfg.ThreadsPerGroup == 0 {
		cfg.ThreadsPerGroup = 256
	}
	if cfg.ThreadsPerGroup < 0 || bits.OnesCount(uint(cfg.ThreadsPerGroup)) != 1 {
		return nil, fmt.Errorf("%w: threads per group %d is not a power of two",
			runner.ErrConfiguration, cfg.ThreadsPerGroup)
	}
	limits := kr.Limits()
	if cfg.MaxGroupsPerDimension <= 0 || cfg.MaxGroupsPerDimension > limits.MaxGroupsPerDimension {
		cfg.MaxGroupsPerDimension = limits.MaxGroupsPerDimension
	}
	if cfg.Source.Bundle == "" && cfg.Source.Text == "" {
		src, err := SourceFor(kr.Device.Language())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", runner.ErrConfiguration, err)
		}
		cfg.Source = src
	}

	e := &Engine{
		kr:      kr,
		threads: cfg.ThreadsPerGroup,
		items:   2 * cfg.ThreadsPerGroup,
		maxDim:  cfg.MaxGroupsPerDimension,
	}
	if scratch := e.items * 4; scratch > limits.MaxScratchBytes {
		return nil, fmt.Errorf("%w: block of %d elements needs %d scratch bytes, device has %d",
			runner.ErrConfiguration, e.items, scratch, limits.MaxScratchBytes)
	}

	constants := runner.NewArguments().
		Set("THREADS_PER_GROUP", runner.Uint32(uint32(e.threads))).
		Set("ITEMS_PER_GROUP", runner.Uint32(uint32(e.items)))

	lib, err := kr.Library(cfg.Source)
	if err != nil {
		return nil, err
	}
	if e.scanP, err = kr.MakePipeline(lib.Function(scanKernel), constants, nil); err != nil {
		return nil, err
	}
	if e.addP, err = kr.MakePipeline(lib.Function(addKernel), constants, nil); err != nil {
		e.scanP.Free()
		return nil, err
	}
	for _, p := range []*runner.Pipeline{e.scanP, e.addP} {
		if p.MaxThreadsPerGroup() < e.threads {
			e.Free()
			return nil, fmt.Errorf("%w: %d threads per group exceeds %s limit %d",
				runner.ErrConfiguration, e.threads, p.Name(), p.MaxThreadsPerGroup())
		}
	}

	runner.Logger().Debug("scan engine created",
		"device", kr.Device.Name(), "threads", e.threads, "items", e.items, "maxGroupsPerDimension", e.maxDim)
	return e, nil
}

// ItemsPerGroup returns the number of elements one work-group scans
func (e *Engine) ItemsPerGroup() int { return e.items }

// Free releases the pipelines
func (e *Engine) Free() {
	e.scanP.Free()
	e.addP.Free()
}

// Plan returns the passes needed to scan n elements, level 0 first. Every
// level but the last has more than one block.
func (e *Engine) Plan(n int) ([]Pass, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: scan of %d elements", runner.ErrConfiguration, n)
	}
	// element counts reach the kernels as uint32
	if uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: scan of %d elements exceeds %d", runner.ErrConfiguration, n, uint64(math.MaxUint32))
	}
	var passes []Pass
	for count := n; count > 0; {
		blocks := (count + e.items - 1) / e.items
		groups, err := e.groupGrid(blocks)
		if err != nil {
			return nil, err
		}
		passes = append(passes, Pass{Level: len(passes), Count: count, Blocks: blocks, Groups: groups})
		if blocks == 1 {
			break
		}
		count = blocks
	}
	return passes, nil
}

// groupGrid folds a block count into a grid no dimension of which exceeds
// the per-dimension limit. Blocks are numbered x + y*width; the spare
// groups of the last row find no elements and return.
func (e *Engine) groupGrid(blocks int) (device.Size, error) {
	if blocks <= e.maxDim {
		return device.Size1D(blocks), nil
	}
	x := int(math.Ceil(math.Sqrt(float64(blocks))))
	if x > e.maxDim {
		x = e.maxDim
	}
	y := (blocks + x - 1) / x
	if y > e.maxDim {
		return device.Size{}, fmt.Errorf("%w: %d blocks exceed a %dx%d group grid",
			runner.ErrConfiguration, blocks, e.maxDim, e.maxDim)
	}
	return device.Size2D(x, y), nil
}

// Scan returns a new buffer holding the exclusive (or inclusive) prefix
// sum of input. Sums wrap around modulo 2^32.
func (e *Engine) Scan(input *runner.TypedBuffer[uint32], inclusive bool) (*runner.TypedBuffer[uint32], error) {
	n := input.Len()
	switch n {
	case 0:
		return runner.NewTypedBuffer[uint32](e.kr, 0)
	case 1:
		v, err := input.ToSlice()
		if err != nil {
			return nil, err
		}
		if !inclusive {
			v[0] = 0
		}
		return runner.NewTypedBufferFrom(e.kr, v)
	}

	passes, err := e.Plan(n)
	if err != nil {
		return nil, err
	}
	passes[0].Inclusive = inclusive
	runner.Logger().Debug("scan plan", "n", n, "levels", len(passes))

	outs := make([]*runner.TypedBuffer[uint32], 0, len(passes))
	sums := make([]*runner.TypedBuffer[uint32], 0, len(passes))
	release := func(keepResult bool) {
		for i, b := range outs {
			if i > 0 || !keepResult {
				b.Release()
			}
		}
		for _, b := range sums {
			b.Release()
		}
	}

	for _, pass := range passes {
		out, err := runner.NewTypedBuffer[uint32](e.kr, pass.Count)
		if err != nil {
			release(false)
			return nil, err
		}
		outs = append(outs, out)
		bs, err := runner.NewTypedBuffer[uint32](e.kr, pass.Blocks)
		if err != nil {
			release(false)
			return nil, err
		}
		sums = append(sums, bs)
	}

	err = e.kr.Dispatch("scan", func(d *runner.Dispatcher) error {
		for k, pass := range passes {
			in := input
			if k > 0 {
				in = sums[k-1]
			}
			if err := e.scanLevel(d, pass, in, outs[k], sums[k]); err != nil {
				return err
			}
		}
		for k := len(passes) - 2; k >= 0; k-- {
			if err := e.addLevel(d, passes[k], outs[k], outs[k+1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		release(false)
		return nil, err
	}
	release(true)
	return outs[0], nil
}

func (e *Engine) scanLevel(d *runner.Dispatcher, pass Pass, in, out, blockSums *runner.TypedBuffer[uint32]) error {
	inclusive := uint32(0)
	if pass.Inclusive {
		inclusive = 1
	}
	e.scanP.Arguments.
		Set("input", in.Arg(0)).
		Set("output", out.Arg(0)).
		Set("block_sums", blockSums.Arg(0)).
		Set("count", runner.Uint32(uint32(pass.Count))).
		Set("inclusive", runner.Uint32(inclusive))
	if e.scanP.HasBinding("temp") {
		e.scanP.Arguments.Set("temp", runner.Scratch(e.items*4))
	}
	if err := d.DispatchGroups(e.scanP, pass.Groups, device.Size1D(e.threads)); err != nil {
		return fmt.Errorf("scan level %d: %w", pass.Level, err)
	}
	return nil
}

func (e *Engine) addLevel(d *runner.Dispatcher, pass Pass, out, offsets *runner.TypedBuffer[uint32]) error {
	e.addP.Arguments.
		Set("output", out.Arg(0)).
		Set("block_offsets", offsets.Arg(0)).
		Set("count", runner.Uint32(uint32(pass.Count)))
	if err := d.DispatchGroups(e.addP, pass.Groups, device.Size1D(e.threads)); err != nil {
		return fmt.Errorf("add block offsets level %d: %w", pass.Level, err)
	}
	return nil
}

// ScanSlice uploads data, scans it and reads the result back
func (e *Engine) ScanSlice(data []uint32, inclusive bool) ([]uint32, error) {
	in, err := runner.NewTypedBufferFrom(e.kr, data)
	if err != nil {
		return nil, err
	}
	defer in.Release()

	out, err := e.Scan(in, inclusive)
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return out.ToSlice()
}
