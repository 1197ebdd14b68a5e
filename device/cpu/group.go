package cpu

import (
	"fmt"
	"unsafe"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// Element is a numeric type kernels can view device memory as
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Group is one work-group of a dispatch
type Group struct {
	ID     device.Size // position of this group in the group grid
	Groups device.Size // extent of the group grid
	Size   device.Size // threads per group
	Grid   device.Size // threads in the whole dispatch

	dispatch *dispatch
	scratch  map[int][]byte
}

// Thread identifies one invocation inside a group
type Thread struct {
	Local  device.Size
	Global device.Size
	Index  int // flattened local index
}

// Linear returns the flattened group index
func (g *Group) Linear() int {
	return g.ID.X + g.Groups.X*(g.ID.Y+g.Groups.Y*g.ID.Z)
}

// Threads runs fn for every thread of the group that lies inside the
// dispatch grid. Returning from Threads is a group barrier: all writes made
// by fn are visible to the next call.
func (g *Group) Threads(fn func(t Thread)) {
	for z := 0; z < g.Size.Z; z++ {
		for y := 0; y < g.Size.Y; y++ {
			for x := 0; x < g.Size.X; x++ {
				global := device.Size{
					X: g.ID.X*g.Size.X + x,
					Y: g.ID.Y*g.Size.Y + y,
					Z: g.ID.Z*g.Size.Z + z,
				}
				if global.X >= g.Grid.X || global.Y >= g.Grid.Y || global.Z >= g.Grid.Z {
					continue
				}
				fn(Thread{
					Local:  device.Size{X: x, Y: y, Z: z},
					Global: global,
					Index:  x + g.Size.X*(y+g.Size.Y*z),
				})
			}
		}
	}
}

// fault aborts the current group with an error
type fault struct {
	err error
}

func (g *Group) fail(format string, args ...any) {
	panic(fault{err: fmt.Errorf(format, args...)})
}

func (g *Group) arg(name string, kind builder.BindingKind) (int, argument) {
	slot, ok := g.dispatch.pipeline.slots[name]
	if !ok {
		g.fail("kernel %s has no parameter %s", g.dispatch.pipeline.Name(), name)
	}
	a, ok := g.dispatch.args[slot]
	if !ok {
		g.fail("parameter %s (slot %d) is not bound", name, slot)
	}
	if a.kind != kind {
		g.fail("parameter %s is bound as %v, kernel reads it as %v", name, a.kind, kind)
	}
	return slot, a
}

func view[T Element](g *Group, name string, b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) == 0 {
		return nil
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(b)))%uintptr(size) != 0 {
		g.fail("%s is not aligned for %d byte elements", name, size)
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/size)
}

// Slice views the buffer bound to name, starting at its bound offset
func Slice[T Element](g *Group, name string) []T {
	_, a := g.arg(name, builder.BindingBuffer)
	return view[T](g, name, a.buffer.data[a.offset:])
}

// Scratch views the group's scratch memory bound to name. Each group gets
// its own zeroed copy.
func Scratch[T Element](g *Group, name string) []T {
	slot, a := g.arg(name, builder.BindingScratch)
	mem, ok := g.scratch[slot]
	if !ok {
		mem = alignedBytes(a.scratch)
		g.scratch[slot] = mem
	}
	return view[T](g, name, mem)
}

// Value reads the inline value bound to name
func Value[T Element](g *Group, name string) T {
	_, a := g.arg(name, builder.BindingValue)
	var v T
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
	if len(a.data) != len(dst) {
		g.fail("value %s is %d bytes, kernel reads %d", name, len(a.data), len(dst))
	}
	copy(dst, a.data)
	return v
}

// Vector reads the inline vector bound to name
func Vector[T Element](g *Group, name string) []T {
	_, a := g.arg(name, builder.BindingValue)
	out := make([]T, len(a.data)/int(unsafe.Sizeof(*new(T))))
	copy(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), len(a.data)), a.data)
	return out
}

// Flag reads the inline boolean bound to name
func Flag(g *Group, name string) bool {
	_, a := g.arg(name, builder.BindingValue)
	if len(a.data) != 1 {
		g.fail("value %s is %d bytes, kernel reads a bool", name, len(a.data))
	}
	return a.data[0] != 0
}

// Texels views the texture bound to name as row-major texels of T
func Texels[T Element](g *Group, name string) ([]T, device.TextureDescriptor) {
	_, a := g.arg(name, builder.BindingTexture)
	return view[T](g, name, a.texture.data), a.texture.desc
}

// Constant reads the first element of the pipeline constant name
func Constant[T Element](g *Group, name string) (T, bool) {
	c, ok := g.dispatch.pipeline.constants[name]
	if !ok {
		return 0, false
	}
	switch v := c.Element(0).(type) {
	case int64:
		return T(v), true
	case uint64:
		return T(v), true
	case float64:
		return T(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
