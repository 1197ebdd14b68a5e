//go:build webgpu

package webgpu

import (
	"testing"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner"
	"github.com/notargets/ComputeKernel/runner/builder"
	"github.com/notargets/ComputeKernel/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const biasSource = `
override THREADS_PER_GROUP: u32 = 64u;

@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> b: array<f32>;
@group(0) @binding(2) var<uniform> bias: f32;

@compute @workgroup_size(THREADS_PER_GROUP)
fn add(@builtin(global_invocation_id) gid: vec3<u32>) {
    b[gid.x] = a[gid.x] + bias;
}
`

func newTestRunner(t *testing.T) *runner.Runner {
	t.Helper()
	dev, err := New(Options{Validate: true})
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

func TestWebGPUScan(t *testing.T) {
	kr := newTestRunner(t)

	e, err := scan.New(kr, scan.Config{ThreadsPerGroup: 64})
	require.NoError(t, err)
	defer e.Free()

	got, err := e.ScanSlice([]uint32{3, 1, 7, 0, 4, 1, 6, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3, 4, 11, 11, 15, 16, 22}, got)

	data := make([]uint32, 2*e.ItemsPerGroup()*e.ItemsPerGroup()+3)
	want := make([]uint32, len(data))
	var sum uint32
	for i := range data {
		data[i] = uint32(i%5 + 1)
		sum += data[i]
		want[i] = sum
	}
	got, err = e.ScanSlice(data, true)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWebGPUDispatch(t *testing.T) {
	kr := newTestRunner(t)

	fn, err := kr.Function(builder.FromText(builder.WGSL, biasSource), "add")
	require.NoError(t, err)
	p, err := kr.MakePipeline(fn, runner.NewArguments().Set("THREADS_PER_GROUP", runner.Uint32(32)), nil)
	require.NoError(t, err)
	defer p.Free()
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "bias": 2}, p.Bindings())
	assert.Equal(t, 32, p.MaxThreadsPerGroup())

	in := make([]float32, 96)
	for i := range in {
		in[i] = float32(i)
	}
	a, err := runner.NewTypedBufferFrom(kr, in)
	require.NoError(t, err)
	defer a.Release()
	b, err := runner.NewTypedBuffer[float32](kr, len(in))
	require.NoError(t, err)
	defer b.Release()
	p.Arguments.Set("a", a.Arg(0)).Set("b", b.Arg(0)).Set("bias", runner.Float(0.5))

	tests := []struct {
		name    string
		threads device.Size
		group   device.Size
		wantErr bool
	}{
		{"uneven grid", device.Size1D(100), device.Size1D(32), true},
		{"group differs from the built one", device.Size1D(96), device.Size1D(16), true},
		{"whole groups", device.Size1D(96), device.Size1D(32), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := kr.Dispatch(tt.name, func(d *runner.Dispatcher) error {
				return d.DispatchThreads(p, tt.threads, tt.group)
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, runner.ErrUnsupportedCapability)
				return
			}
			require.NoError(t, err)
		})
	}

	got, err := b.ToSlice()
	require.NoError(t, err)
	for i, v := range got {
		assert.Equal(t, float32(i)+0.5, v)
	}
}

func TestWebGPUUnalignedBufferAccess(t *testing.T) {
	dev, err := New(Options{})
	if err != nil {
		t.Skipf("Skipping: %v", err)
	}
	defer dev.Release()

	buf, err := dev.NewBuffer(10)
	require.NoError(t, err)
	defer buf.Release()

	require.NoError(t, buf.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
	require.NoError(t, buf.Write(3, []byte{0xAA, 0xBB}))

	got := make([]byte, 6)
	require.NoError(t, buf.Read(2, got))
	assert.Equal(t, []byte{3, 0xAA, 0xBB, 6, 7, 8}, got)

	assert.Error(t, buf.Read(8, make([]byte, 4)))
}
