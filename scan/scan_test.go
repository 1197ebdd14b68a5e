package scan

import (
	"fmt"
	"math"
	"math/bits"
	"math/rand"
	"testing"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/device/cpu"
	"github.com/notargets/ComputeKernel/runner"
	"github.com/notargets/ComputeKernel/runner/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, opts cpu.Options, cfg Config) (*runner.Runner, *Engine) {
	t.Helper()
	kr := runner.NewRunner(cpu.New(opts))
	e, err := New(kr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Free()
		kr.Free()
	})
	return kr, e
}

func hostScan(data []uint32, inclusive bool) []uint32 {
	out := make([]uint32, len(data))
	var sum uint32
	for i, v := range data {
		if inclusive {
			sum += v
			out[i] = sum
		} else {
			out[i] = sum
			sum += v
		}
	}
	return out
}

func randomInput(n int, seed int64) []uint32 {
	r := rand.New(rand.NewSource(seed))
	data := make([]uint32, n)
	for i := range data {
		data[i] = uint32(r.Intn(1000))
	}
	return data
}

func TestScanScenarios(t *testing.T) {
	_, e := newEngine(t, cpu.Options{}, Config{})

	got, err := e.ScanSlice([]uint32{3, 1, 7, 0, 4, 1, 6, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3, 4, 11, 11, 15, 16, 22}, got)

	got, err = e.ScanSlice([]uint32{1, 2, 3, 4}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3, 6, 10}, got)
}

func TestScanRandom(t *testing.T) {
	_, e := newEngine(t, cpu.Options{}, Config{ThreadsPerGroup: 64})

	for _, n := range []int{2, 37, 128, 1000, 4096, 10007} {
		data := randomInput(n, int64(n))
		for _, inclusive := range []bool{false, true} {
			t.Run(fmt.Sprintf("n=%d/inclusive=%v", n, inclusive), func(t *testing.T) {
				got, err := e.ScanSlice(data, inclusive)
				require.NoError(t, err)
				assert.Equal(t, hostScan(data, inclusive), got)
			})
		}
	}
}

func TestScanBoundarySizes(t *testing.T) {
	_, e := newEngine(t, cpu.Options{}, Config{})
	c := e.ItemsPerGroup()
	require.Equal(t, 512, c)

	for _, n := range []int{0, 1, c - 1, c, c + 1, c * c, c*c + 1} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			data := randomInput(n, 7)
			got, err := e.ScanSlice(data, false)
			require.NoError(t, err)
			require.Len(t, got, n)
			assert.Equal(t, hostScan(data, false), got)
		})
	}
}

func TestScanSmallGroups(t *testing.T) {
	kr, e := newEngine(t, cpu.Options{}, Config{ThreadsPerGroup: 2})

	passes, err := e.Plan(100)
	require.NoError(t, err)
	require.Len(t, passes, 4)
	assert.Equal(t, []int{100, 25, 7, 2}, []int{passes[0].Count, passes[1].Count, passes[2].Count, passes[3].Count})

	before := kr.Stats()
	data := randomInput(100, 3)
	got, err := e.ScanSlice(data, true)
	require.NoError(t, err)
	assert.Equal(t, hostScan(data, true), got)

	after := kr.Stats()
	assert.Equal(t, int64(1), after.Tasks-before.Tasks, "every level runs in one task")
	assert.Equal(t, int64(4+3), after.Launches-before.Launches)
}

func TestScanTrivialSizesLaunchNothing(t *testing.T) {
	kr, e := newEngine(t, cpu.Options{}, Config{})

	tests := []struct {
		data      []uint32
		inclusive bool
		want      []uint32
	}{
		{[]uint32{}, false, []uint32{}},
		{[]uint32{42}, false, []uint32{0}},
		{[]uint32{42}, true, []uint32{42}},
	}
	for _, tt := range tests {
		got, err := e.ScanSlice(tt.data, tt.inclusive)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, runner.Stats{}, kr.Stats())
}

func TestScanWraparound(t *testing.T) {
	_, e := newEngine(t, cpu.Options{}, Config{ThreadsPerGroup: 2})

	data := []uint32{0xFFFFFFFF, 2, 3, 0xFFFFFFFE, 5}
	got, err := e.ScanSlice(data, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 0xFFFFFFFF, 1, 4, 2}, got)
}

func TestScanFoldsLargeBlockCounts(t *testing.T) {
	_, e := newEngine(t, cpu.Options{}, Config{ThreadsPerGroup: 2, MaxGroupsPerDimension: 4})

	passes, err := e.Plan(50)
	require.NoError(t, err)
	require.Len(t, passes, 3)
	assert.Equal(t, 13, passes[0].Blocks)
	assert.Equal(t, device.Size2D(4, 4), passes[0].Groups)
	assert.Equal(t, device.Size1D(4), passes[1].Groups)
	assert.Equal(t, device.Size1D(1), passes[2].Groups)

	data := randomInput(50, 11)
	got, err := e.ScanSlice(data, false)
	require.NoError(t, err)
	assert.Equal(t, hostScan(data, false), got)

	_, err = e.Plan(68)
	assert.ErrorIs(t, err, runner.ErrConfiguration)
}

func TestPlanRejectsCounts(t *testing.T) {
	_, e := newEngine(t, cpu.Options{}, Config{})

	tests := []struct {
		name    string
		n       uint64
		wantErr bool
	}{
		{"largest uint32 count", math.MaxUint32, false},
		{"one past uint32", math.MaxUint32 + 1, true},
		{"far past uint32", 1 << 40, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if bits.UintSize < 64 {
				t.Skip("int cannot hold the count")
			}
			passes, err := e.Plan(int(tt.n))
			if tt.wantErr {
				assert.ErrorIs(t, err, runner.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int(tt.n), passes[0].Count)
		})
	}

	_, err := e.Plan(-1)
	assert.ErrorIs(t, err, runner.ErrConfiguration)
}

func TestScanBuffersAreReleased(t *testing.T) {
	kr, e := newEngine(t, cpu.Options{}, Config{ThreadsPerGroup: 2})

	in, err := runner.NewTypedBufferFrom(kr, []uint32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	defer in.Release()

	out, err := e.Scan(in, false)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, 9, out.Len())

	got, err := out.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}, got)

	again, err := in.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), again[8], "input is left unchanged")
}

func TestNewConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		opts cpu.Options
		cfg  Config
	}{
		{"not a power of two", cpu.Options{}, Config{ThreadsPerGroup: 96}},
		{"negative", cpu.Options{}, Config{ThreadsPerGroup: -4}},
		{"scratch over limit", cpu.Options{MaxScratchBytes: 1024}, Config{ThreadsPerGroup: 256}},
		{"threads over limit", cpu.Options{MaxThreadsPerGroup: 64}, Config{ThreadsPerGroup: 128}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kr := runner.NewRunner(cpu.New(tt.opts))
			defer kr.Free()
			_, err := New(kr, tt.cfg)
			assert.ErrorIs(t, err, runner.ErrConfiguration)
		})
	}
}

func TestSourceFor(t *testing.T) {
	for _, lang := range []builder.Language{builder.OKL, builder.OpenCL, builder.WGSL} {
		src, err := SourceFor(lang)
		require.NoError(t, err)
		assert.Contains(t, src.Text, scanKernel)
		assert.Contains(t, src.Text, addKernel)
	}
	src, err := SourceFor(builder.Native)
	require.NoError(t, err)
	assert.Equal(t, Bundle, src.Bundle)
}

func TestKernelSourcesReflectNativeNames(t *testing.T) {
	native := map[string][]string{
		scanKernel: {"input", "output", "block_sums", "count", "inclusive"},
		addKernel:  {"output", "block_offsets", "count"},
	}
	constants := builder.NewConstantTable()
	require.NoError(t, runner.Uint32(64).ToConstant(constants, "THREADS_PER_GROUP"))
	require.NoError(t, runner.Uint32(128).ToConstant(constants, "ITEMS_PER_GROUP"))
	wgsl, err := builder.SpecializeWGSL(wgslSource, constants)
	require.NoError(t, err)

	for entry, names := range native {
		refl, err := builder.ParseKernelSignature(builder.OpenCL, openclSource, entry)
		require.NoError(t, err)
		for _, name := range names {
			_, ok := refl.Lookup(name)
			assert.True(t, ok, "opencl %s reflects %s", entry, name)
		}

		refl, err = builder.ParseKernelSignature(builder.OKL, oklSource, entry)
		require.NoError(t, err)
		for _, name := range names {
			_, ok := refl.Lookup(name)
			assert.True(t, ok, "okl %s reflects %s", entry, name)
		}

		refl, err = builder.ParseWGSLBindings(wgsl, entry)
		require.NoError(t, err)
		assert.Len(t, refl, len(names))
		for _, name := range names {
			_, ok := refl.Lookup(name)
			assert.True(t, ok, "wgsl %s reflects %s", entry, name)
		}
	}
}
