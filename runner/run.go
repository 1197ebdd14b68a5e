package runner

import (
	"fmt"
	"math"

	"github.com/notargets/ComputeKernel/device"
)

// Run launches p with extra laid over its staged arguments. p itself is
// left unchanged. The launch runs over a width (or width x height) grid, one
// thread per element, in its own task. The group size comes from GroupSize.
func (kr *Runner) Run(p *Pipeline, extra Arguments, width int, height ...int) error {
	h := 1
	switch len(height) {
	case 0:
	case 1:
		h = height[0]
	default:
		return fmt.Errorf("%w: run %s takes at most two dimensions", ErrConfiguration, p.Name())
	}
	if width <= 0 || h <= 0 {
		return fmt.Errorf("%w: run %s over %dx%d", ErrConfiguration, p.Name(), width, h)
	}

	// extra applies to this launch only
	run := *p
	run.Arguments = p.Arguments.Clone().Merge(extra)
	grid := device.Size2D(width, h)
	group := GroupSize(&run, width, h)
	return kr.Dispatch(p.Name(), func(d *Dispatcher) error {
		return d.DispatchThreads(&run, grid, group)
	})
}

// GroupSize picks a work-group shape for a width x height grid. A 1-D grid
// uses as many threads as the pipeline allows, up to the width. A 2-D grid
// is close to square: its width is the square root of the thread limit
// rounded down to a multiple of the execution width. Both are clamped to
// the grid.
func GroupSize(p *Pipeline, width, height int) device.Size {
	maxThreads := max(p.MaxThreadsPerGroup(), 1)
	if height <= 1 {
		return device.Size1D(max(min(maxThreads, width), 1))
	}
	w, h := groupShape2D(maxThreads, p.ThreadExecutionWidth())
	return device.Size2D(max(min(w, width), 1), max(min(h, height), 1))
}

// groupShape2D splits maxThreads into a w x h group with w a multiple of
// execWidth where the limit allows
func groupShape2D(maxThreads, execWidth int) (w, h int) {
	maxThreads = max(maxThreads, 1)
	w = isqrt(maxThreads)
	if execWidth > 0 {
		w = max(w/execWidth*execWidth, min(execWidth, maxThreads))
	}
	w = max(w, 1)
	return w, max(maxThreads/w, 1)
}

func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
