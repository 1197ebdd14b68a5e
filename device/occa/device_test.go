package occa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner"
	"github.com/notargets/ComputeKernel/runner/builder"
	"github.com/notargets/ComputeKernel/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scaleSource = `
@kernel void scale(const float* input,
                   float* output,
                   const float factor,
                   const int groupCount,
                   const int threadCount) {
  for (int b = 0; b < groupCount; ++b; @outer) {
    for (int t = 0; t < THREADS_PER_GROUP; ++t; @inner) {
      const int i = b * THREADS_PER_GROUP + t;
      if (i < threadCount) {
        output[i] = factor * input[i];
      }
    }
  }
}
`

func newTestRunner(t *testing.T) *runner.Runner {
	t.Helper()
	dev, err := New(Options{})
	if err != nil {
		t.Skipf("Skipping: %v", err)
	}
	kr := runner.NewRunner(dev)
	t.Cleanup(func() {
		kr.Free()
		dev.Release()
	})
	return kr
}

func TestSplitLaunchParams(t *testing.T) {
	sig := func(src string) builder.Reflection {
		refl, err := builder.ParseKernelSignature(builder.OKL, src, "k")
		require.NoError(t, err)
		return refl
	}

	refl, groups, threads, err := splitLaunchParams(sig(`@kernel void k(float* x, const int groupCount, const int threadCount) {}`))
	require.NoError(t, err)
	assert.True(t, groups)
	assert.True(t, threads)
	assert.Equal(t, map[string]int{"x": 0}, refl.Slots())

	refl, groups, threads, err = splitLaunchParams(sig(`@kernel void k(float* x, const int n, const int groupCount) {}`))
	require.NoError(t, err)
	assert.True(t, groups)
	assert.False(t, threads)
	assert.Len(t, refl, 2)

	_, _, _, err = splitLaunchParams(sig(`@kernel void k(const int groupCount, float* x) {}`))
	assert.Error(t, err)

	_, _, _, err = splitLaunchParams(sig(`@kernel void k(float* x, const int threadCount) {}`))
	assert.Error(t, err)
}

func TestOCCAScan(t *testing.T) {
	kr := newTestRunner(t)

	e, err := scan.New(kr, scan.Config{ThreadsPerGroup: 64})
	require.NoError(t, err)
	defer e.Free()

	got, err := e.ScanSlice([]uint32{3, 1, 7, 0, 4, 1, 6, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3, 4, 11, 11, 15, 16, 22}, got)

	got, err = e.ScanSlice([]uint32{1, 2, 3, 4}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3, 6, 10}, got)

	// three levels with 128 items per group
	data := make([]uint32, 128*128+5)
	want := make([]uint32, len(data))
	var sum uint32
	for i := range data {
		data[i] = uint32(i % 13)
		want[i] = sum
		sum += data[i]
	}
	got, err = e.ScanSlice(data, false)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOCCARun(t *testing.T) {
	kr := newTestRunner(t)

	fn, err := kr.Function(builder.FromText(builder.OKL, scaleSource), "scale")
	require.NoError(t, err)
	p, err := kr.MakePipeline(fn, runner.NewArguments().Set("THREADS_PER_GROUP", runner.Int(64)), nil)
	require.NoError(t, err)
	defer p.Free()
	assert.Equal(t, map[string]int{"input": 0, "output": 1, "factor": 2}, p.Bindings())
	assert.Equal(t, 64, p.MaxThreadsPerGroup())

	n := 100
	in := make([]float32, n)
	for i := range in {
		in[i] = float32(i)
	}
	input, err := runner.NewTypedBufferFrom(kr, in)
	require.NoError(t, err)
	defer input.Release()
	output, err := runner.NewTypedBuffer[float32](kr, n)
	require.NoError(t, err)
	defer output.Release()

	p.Arguments.Set("input", input.Arg(0)).Set("output", output.Arg(0))
	require.NoError(t, kr.Run(p, runner.NewArguments().Set("factor", runner.Float(2)), n))

	got, err := output.ToSlice()
	require.NoError(t, err)
	for i, v := range got {
		assert.Equal(t, float32(2*i), v)
	}
}

func TestOCCAUnsupported(t *testing.T) {
	kr := newTestRunner(t)

	fn, err := kr.Function(builder.FromText(builder.OKL, scaleSource), "scale")
	require.NoError(t, err)
	p, err := kr.MakePipeline(fn, runner.NewArguments().Set("THREADS_PER_GROUP", runner.Int(64)), nil)
	require.NoError(t, err)
	defer p.Free()

	buf, err := runner.NewTypedBuffer[float32](kr, 128)
	require.NoError(t, err)
	defer buf.Release()
	p.Arguments.Set("input", buf.Arg(0)).Set("output", buf.Arg(0)).Set("factor", runner.Float(1))

	tests := []struct {
		name string
		fn   func(d *runner.Dispatcher) error
	}{
		{"2-D grid", func(d *runner.Dispatcher) error {
			return d.DispatchThreads(p, device.Size2D(8, 8), device.Size2D(8, 8))
		}},
		{"group size differs from the built one", func(d *runner.Dispatcher) error {
			return d.DispatchGroups(p, device.Size1D(2), device.Size1D(32))
		}},
		{"buffer offset", func(d *runner.Dispatcher) error {
			p.Arguments.Set("input", buf.Arg(4))
			defer p.Arguments.Set("input", buf.Arg(0))
			return d.DispatchGroups(p, device.Size1D(2), device.Size1D(64))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := kr.Dispatch(tt.name, tt.fn)
			assert.ErrorIs(t, err, runner.ErrUnsupportedCapability)
		})
	}

	_, err = kr.Library(builder.FromText(builder.OpenCL, "__kernel void k() {}"))
	assert.ErrorIs(t, err, runner.ErrResourceCreation)
}

func TestOCCABundle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scale.okl"), []byte(scaleSource), 0o644))

	dev, err := New(Options{BundleDir: dir})
	if err != nil {
		t.Skipf("Skipping: %v", err)
	}
	defer dev.Release()
	kr := runner.NewRunner(dev)
	defer kr.Free()

	fn, err := kr.Function(builder.FromBundle("scale"), "scale")
	require.NoError(t, err)
	p, err := kr.MakePipeline(fn, runner.NewArguments().Set("THREADS_PER_GROUP", runner.Int(32)), nil)
	require.NoError(t, err)
	p.Free()

	_, err = kr.Library(builder.FromBundle("missing"))
	assert.ErrorIs(t, err, runner.ErrResourceCreation)
}
