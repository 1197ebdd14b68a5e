// Package device defines the boundary between the dispatch runtime and a
// compute device. Backends implement these interfaces; the runtime never
// talks to a driver directly.
package device

import (
	"errors"
	"fmt"

	"github.com/notargets/ComputeKernel/runner/builder"
)

// ErrUnsupported is returned by backends for features the device or the
// backend cannot provide.
var ErrUnsupported = errors.New("device: unsupported operation")

// Size is a 3-D extent of threads or work-groups
type Size struct {
	X, Y, Z int
}

// Size1D returns the extent (n, 1, 1)
func Size1D(n int) Size { return Size{X: n, Y: 1, Z: 1} }

// Size2D returns the extent (x, y, 1)
func Size2D(x, y int) Size { return Size{X: x, Y: y, Z: 1} }

// Count returns the number of elements covered by the extent
func (s Size) Count() int { return s.X * s.Y * s.Z }

// Empty reports whether any dimension is zero or negative
func (s Size) Empty() bool { return s.X <= 0 || s.Y <= 0 || s.Z <= 0 }

// CeilDiv returns the number of groups of size g needed to cover s
func (s Size) CeilDiv(g Size) Size {
	return Size{
		X: (s.X + g.X - 1) / g.X,
		Y: (s.Y + g.Y - 1) / g.Y,
		Z: (s.Z + g.Z - 1) / g.Z,
	}
}

// Mul returns the element-wise product
func (s Size) Mul(g Size) Size {
	return Size{X: s.X * g.X, Y: s.Y * g.Y, Z: s.Z * g.Z}
}

// MultipleOf reports whether every dimension of s is a multiple of g
func (s Size) MultipleOf(g Size) bool {
	return s.X%g.X == 0 && s.Y%g.Y == 0 && s.Z%g.Z == 0
}

func (s Size) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.X, s.Y, s.Z)
}

// Limits describes what the device supports
type Limits struct {
	MaxThreadsPerGroup    int
	MaxScratchBytes       int
	MaxGroupsPerDimension int

	// NonUniformGroups is set when threads-per-grid dispatches may end in a
	// partial work-group
	NonUniformGroups bool
}

// Device compiles kernels, allocates memory and creates command buffers
type Device interface {
	Name() string
	Limits() Limits

	// Language is the kernel language CompileLibrary accepts as source text
	Language() builder.Language

	CompileLibrary(src builder.Source) (Library, error)

	// BuildPipeline specializes entry with the constants and reports the
	// argument reflection. A nil reflection with a nil error means the
	// device could not provide reflection for this pipeline.
	BuildPipeline(lib Library, entry string, constants builder.ConstantTable) (PipelineState, builder.Reflection, error)

	NewBuffer(length int) (Buffer, error)
	NewTexture(desc TextureDescriptor) (Texture, error)
	NewCommandBuffer(label string) (CommandBuffer, error)

	Release()
}

// Library is a compiled kernel program
type Library interface {
	ID() string
	Release()
}

// PipelineState is an executable, specialized kernel entry point
type PipelineState interface {
	Name() string
	MaxThreadsPerGroup() int
	ThreadExecutionWidth() int
	Release()
}

// Buffer is linear device memory addressed in bytes
type Buffer interface {
	Length() int
	Read(offset int, dst []byte) error
	Write(offset int, src []byte) error
	Release()
}

// TextureDescriptor describes a 2-D texture. Channels is 1..4 elements of
// DataType per texel.
type TextureDescriptor struct {
	Width, Height int
	Channels      int
	DataType      builder.DataType
}

// TexelBytes returns the size of one texel
func (d TextureDescriptor) TexelBytes() int {
	return d.Channels * builder.SizeOfType(d.DataType)
}

// Validate checks the descriptor describes a non-empty texture
func (d TextureDescriptor) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("texture size %dx%d is empty", d.Width, d.Height)
	}
	if d.Channels < 1 || d.Channels > 4 {
		return fmt.Errorf("texture has %d channels, must be 1..4", d.Channels)
	}
	if builder.SizeOfType(d.DataType) == 0 {
		return fmt.Errorf("texture has unknown element type %v", d.DataType)
	}
	return nil
}

// Texture is 2-D device image memory, read and written as whole row-major
// images
type Texture interface {
	Descriptor() TextureDescriptor
	Read(dst []byte) error
	Write(src []byte) error
	Release()
}

// CommandBuffer records compute work and submits it as one unit
type CommandBuffer interface {
	Label() string
	BeginCompute() (Encoder, error)

	// SubmitAndWait commits the recorded work and blocks until the device
	// has finished it. A command buffer can be submitted once.
	SubmitAndWait() error
}

// Encoder records kernel launches into a command buffer. Argument state is
// captured at each dispatch.
type Encoder interface {
	SetPipeline(p PipelineState) error
	SetBytes(slot int, dt builder.DataType, data []byte) error
	SetBuffer(slot int, b Buffer, offset int) error
	SetTexture(slot int, t Texture) error
	SetScratch(slot int, length int) error

	// DispatchThreads launches exactly threads invocations, grouped by
	// group. The last group in a dimension may be partial.
	DispatchThreads(threads, group Size) error

	// DispatchGroups launches groups full work-groups of size group
	DispatchGroups(groups, group Size) error

	End() error
}
