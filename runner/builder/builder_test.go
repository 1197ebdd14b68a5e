package builder

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseSignature(t *testing.T) {
	params := []*ParamBuilder{
		Input("input").Type(UINT32),
		Output("output").Type(UINT32),
		Scalar("count").Type(UINT32),
		Scalar("scale").Type(Float32),
	}

	for _, lang := range []Language{OKL, OpenCL} {
		t.Run(lang.String(), func(t *testing.T) {
			decl, err := GenerateKernelDeclaration(lang, "apply", params)
			require.NoError(t, err)

			refl, err := ParseKernelSignature(lang, decl+" {}", "apply")
			require.NoError(t, err)
			require.Len(t, refl, len(params))

			for i, p := range params {
				assert.Equal(t, p.Spec.Name, refl[i].Name)
				assert.Equal(t, i, refl[i].Slot)
				assert.Equal(t, p.Spec.Kind(), refl[i].Kind)
				assert.Equal(t, p.Spec.DataType, refl[i].DataType)
			}
		})
	}
}

func TestParseKernelSignatureOpenCL(t *testing.T) {
	src := `
// helper with a similar name
__kernel void scan_helper(__global uint* x) {}

/* the real entry */
__kernel void scan(__global const uint* restrict input,
                   __global uint* output,
                   __local uint* temp,
                   const float4 tint,
                   read_only image2d_t lut) {
}`
	refl, err := ParseKernelSignature(OpenCL, src, "scan")
	require.NoError(t, err)

	want := []Binding{
		{Name: "input", Slot: 0, Kind: BindingBuffer, DataType: UINT32},
		{Name: "output", Slot: 1, Kind: BindingBuffer, DataType: UINT32},
		{Name: "temp", Slot: 2, Kind: BindingScratch, DataType: UINT32},
		{Name: "tint", Slot: 3, Kind: BindingValue, DataType: Float32},
		{Name: "lut", Slot: 4, Kind: BindingTexture},
	}
	assert.Equal(t, Reflection(want), refl)
	assert.Equal(t, map[string]int{"input": 0, "output": 1, "temp": 2, "tint": 3, "lut": 4}, refl.Slots())
}

func TestParseKernelSignatureErrors(t *testing.T) {
	_, err := ParseKernelSignature(OKL, `@kernel void a(const int* x) {}`, "b")
	assert.Error(t, err)

	_, err = ParseKernelSignature(OKL, `@kernel void a(const int* x, int* x) {}`, "a")
	assert.Error(t, err, "duplicate names must be rejected")

	refl, err := ParseKernelSignature(OKL, `@kernel void a() {}`, "a")
	require.NoError(t, err)
	assert.Empty(t, refl)
}

func TestParseWGSLBindings(t *testing.T) {
	src := `
override THREADS_PER_GROUP: u32 = 64u;
@group(0) @binding(0) var<storage, read> input: array<u32>;
@binding(2) @group(0) var<uniform> count: u32;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;
`
	refl, err := ParseWGSLBindings(src, "")
	require.NoError(t, err)
	require.Len(t, refl, 3)

	b, ok := refl.Lookup("count")
	require.True(t, ok)
	assert.Equal(t, 2, b.Slot)
	assert.Equal(t, BindingValue, b.Kind)
	assert.Equal(t, UINT32, b.DataType)

	b, ok = refl.Lookup("output")
	require.True(t, ok)
	assert.Equal(t, 1, b.Slot)
	assert.Equal(t, BindingBuffer, b.Kind)

	_, err = ParseWGSLBindings(`@group(1) @binding(0) var<storage, read> x: array<f32>;`, "")
	assert.Error(t, err)
}

func TestParseWGSLBindingsForEntry(t *testing.T) {
	src := `
@group(0) @binding(0) var<storage, read> input: array<u32>;
@group(0) @binding(1) var<storage, read_write> output: array<u32>;
@group(0) @binding(2) var<storage, read> offsets: array<u32>;

@compute @workgroup_size(64)
fn copy(@builtin(global_invocation_id) id: vec3<u32>) {
	if (id.x < arrayLength(&input)) {
		output[id.x] = input[id.x];
	}
}

@compute @workgroup_size(64)
fn shift(@builtin(global_invocation_id) id: vec3<u32>) {
	output[id.x] += offsets[0];
}
`
	refl, err := ParseWGSLBindings(src, "shift")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"output": 1, "offsets": 2}, refl.Slots())

	refl, err = ParseWGSLBindings(src, "copy")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"input": 0, "output": 1}, refl.Slots())

	_, err = ParseWGSLBindings(src, "missing")
	assert.Error(t, err)
}

func TestParseWGSLBindingsThroughCalls(t *testing.T) {
	src := `
@group(0) @binding(0) var<storage, read> data: array<f32>;
@group(0) @binding(1) var<storage, read_write> out: array<f32>;
@group(0) @binding(2) var<uniform> scale: f32;
@group(0) @binding(3) var<storage, read> unused: array<f32>;

fn load(i: u32) -> f32 {
	return data[i];
}

fn scaled(i: u32) -> f32 {
	return load(i) * scale;
}

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
	if (id.x < arrayLength(&out)) {
		out[id.x] = scaled(id.x);
	}
}
`
	refl, err := ParseWGSLBindings(src, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"data": 0, "out": 1, "scale": 2}, refl.Slots())

	b, ok := refl.Lookup("scale")
	require.True(t, ok)
	assert.Equal(t, BindingValue, b.Kind)
	assert.Equal(t, Float32, b.DataType)

	refl, err = ParseWGSLBindings(src, "")
	require.NoError(t, err)
	assert.Len(t, refl, 4)
}

func TestParseWGSLBindingsSyntaxError(t *testing.T) {
	_, err := ParseWGSLBindings(`@group(0) @binding(0) var<storage, read> x: array<f32>`, "")
	assert.Error(t, err)
}

func TestSpecializeWGSL(t *testing.T) {
	ct := NewConstantTable()
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 128)
	require.NoError(t, ct.Set("THREADS_PER_GROUP", UINT32, 1, data))

	src := "override THREADS_PER_GROUP: u32 = 64u;\noverride OTHER: f32 = 1.0;\n"
	out, err := SpecializeWGSL(src, ct)
	require.NoError(t, err)
	assert.Contains(t, out, "const THREADS_PER_GROUP: u32 = 128u;")
	assert.Contains(t, out, "override OTHER: f32 = 1.0;")
}

func TestConstantLiterals(t *testing.T) {
	f := make([]byte, 4)
	binary.LittleEndian.PutUint32(f, math.Float32bits(2))
	neg := make([]byte, 4)
	binary.LittleEndian.PutUint32(neg, uint32(0xFFFFFFFF))
	vec := make([]byte, 8)
	binary.LittleEndian.PutUint32(vec, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(vec[4:], math.Float32bits(1.5))

	tests := []struct {
		name  string
		c     Constant
		lang  Language
		want  string
		fails bool
	}{
		{"float c", Constant{Float32, 1, f}, OpenCL, "2.0f", false},
		{"int32 wgsl", Constant{INT32, 1, neg}, WGSL, "-1i", false},
		{"uint32 c", Constant{UINT32, 1, neg}, OKL, "4294967295u", false},
		{"bool", Constant{Bool, 1, []byte{1}}, OKL, "true", false},
		{"vec opencl", Constant{Float32, 2, vec}, OpenCL, "(float2)(0.5f,1.5f)", false},
		{"vec wgsl", Constant{Float32, 2, vec}, WGSL, "vec2<f32>(0.5f,1.5f)", false},
		{"vec okl", Constant{Float32, 2, vec}, OKL, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.c.Literal(tt.lang)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConstantTableSet(t *testing.T) {
	ct := NewConstantTable()
	assert.Error(t, ct.Set("", INT32, 1, make([]byte, 4)))
	assert.Error(t, ct.Set("x", INT32, 1, make([]byte, 3)))
	assert.Error(t, ct.Set("x", INT32, 5, make([]byte, 20)))
	require.NoError(t, ct.Set("b", INT16, 1, []byte{1, 0}))
	require.NoError(t, ct.Set("a", UINT8, 4, []byte{1, 2, 3, 4}))
	assert.Equal(t, []string{"a", "b"}, ct.Names())

	clone := ct.Clone()
	clone["a"].Data[0] = 9
	assert.Equal(t, byte(1), ct["a"].Data[0])
}

func TestSourceID(t *testing.T) {
	a := FromText(OKL, "@kernel void k() {}")
	b := FromText(OKL, "@kernel void k() {}")
	c := FromText(OpenCL, "@kernel void k() {}")
	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Equal(t, "bundle:scan", FromBundle("scan").ID())

	assert.NoError(t, a.Validate())
	assert.Error(t, Source{Text: "x"}.Validate())
	assert.Error(t, Source{}.Validate())
}

func TestGeneratePreamble(t *testing.T) {
	ct := NewConstantTable()
	u := make([]byte, 4)
	binary.LittleEndian.PutUint32(u, 512)
	require.NoError(t, ct.Set("ITEMS_PER_GROUP", UINT32, 1, u))
	binary.LittleEndian.PutUint32(u, 256)
	require.NoError(t, ct.Set("THREADS_PER_GROUP", UINT32, 1, u))

	got, err := GeneratePreamble(OKL, ct)
	require.NoError(t, err)
	assert.Equal(t, "#define ITEMS_PER_GROUP 512u\n#define THREADS_PER_GROUP 256u\n", got)

	_, err = GeneratePreamble(WGSL, ct)
	assert.Error(t, err)

	got, err = GeneratePreamble(OpenCL, NewConstantTable())
	require.NoError(t, err)
	assert.Empty(t, got)
}
