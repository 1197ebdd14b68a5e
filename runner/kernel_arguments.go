package runner

import (
	"fmt"
	"math"

	"github.com/notargets/ComputeKernel/device"
	"github.com/notargets/ComputeKernel/runner/builder"
)

// ArgumentKind is the variant of an Argument
type ArgumentKind int

const (
	ValueArgument ArgumentKind = iota + 1
	BufferArgument
	TextureArgument
	ScratchArgument
)

func (k ArgumentKind) String() string {
	switch k {
	case ValueArgument:
		return "value"
	case BufferArgument:
		return "buffer"
	case TextureArgument:
		return "texture"
	case ScratchArgument:
		return "scratch"
	default:
		return fmt.Sprintf("ArgumentKind(%d)", int(k))
	}
}

// Argument is a value bound to a named kernel parameter. It knows how to
// encode itself into a kernel slot and, for inline values, how to become a
// pipeline constant. Arguments are immutable; replace them to change a
// binding.
type Argument struct {
	kind    ArgumentKind
	dtype   builder.DataType
	width   int
	data    []byte
	buffer  device.Buffer
	offset  int
	texture device.Texture
	length  int
}

func (a Argument) Kind() ArgumentKind          { return a.kind }
func (a Argument) DataType() builder.DataType  { return a.dtype }
func (a Argument) Width() int                  { return a.width }
func (a Argument) Bytes() []byte               { return append([]byte(nil), a.data...) }
func (a Argument) Buffer() (device.Buffer, int) { return a.buffer, a.offset }

// Encode writes the argument into slot of the encoder
func (a Argument) Encode(enc device.Encoder, slot int) error {
	switch a.kind {
	case ValueArgument:
		return enc.SetBytes(slot, a.dtype, a.data)
	case BufferArgument:
		return enc.SetBuffer(slot, a.buffer, a.offset)
	case TextureArgument:
		return enc.SetTexture(slot, a.texture)
	case ScratchArgument:
		return enc.SetScratch(slot, a.length)
	default:
		return fmt.Errorf("argument of unknown kind %v", a.kind)
	}
}

// ToConstant stores the argument in the table as the pipeline constant name.
// Only inline values have a constant form.
func (a Argument) ToConstant(table builder.ConstantTable, name string) error {
	if a.kind != ValueArgument {
		return fmt.Errorf("%w: %s argument %s as pipeline constant", ErrUnimplemented, a.kind, name)
	}
	if err := table.Set(name, a.dtype, a.width, a.data); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

func (a Argument) String() string {
	switch a.kind {
	case ValueArgument:
		if a.width > 1 {
			return fmt.Sprintf("%v%d%v", a.dtype, a.width, a.data)
		}
		return fmt.Sprintf("%v%v", a.dtype, a.data)
	case BufferArgument:
		return fmt.Sprintf("buffer(%d bytes @%d)", a.buffer.Length(), a.offset)
	case TextureArgument:
		d := a.texture.Descriptor()
		return fmt.Sprintf("texture(%dx%d)", d.Width, d.Height)
	case ScratchArgument:
		return fmt.Sprintf("scratch(%d)", a.length)
	}
	return "invalid"
}

func value(dt builder.DataType, width int, data []byte) Argument {
	return Argument{kind: ValueArgument, dtype: dt, width: width, data: data}
}

// Scalar creates an inline value of any element type
func Scalar[T Element](v T) Argument {
	return value(DataTypeOf[T](), 1, encodeElements([]T{v}))
}

// Vector creates an inline SIMD vector of 1 to 4 elements. Any other width
// is a programming error and panics.
func Vector[T Element](values ...T) Argument {
	if len(values) < 1 || len(values) > 4 {
		panic(fmt.Sprintf("vector width %d, must be 1..4", len(values)))
	}
	return value(DataTypeOf[T](), len(values), encodeElements(values))
}

func Int8(v int8) Argument     { return Scalar(v) }
func Int16(v int16) Argument   { return Scalar(v) }
func Int32(v int32) Argument   { return Scalar(v) }
func Int64(v int64) Argument   { return Scalar(v) }
func Uint8(v uint8) Argument   { return Scalar(v) }
func Uint16(v uint16) Argument { return Scalar(v) }
func Uint32(v uint32) Argument { return Scalar(v) }
func Uint64(v uint64) Argument { return Scalar(v) }
func Float(v float32) Argument { return Scalar(v) }

// Int creates a 32-bit signed value. Values outside the int32 range panic.
func Int(v int) Argument {
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic(fmt.Sprintf("value %d does not fit in int32", v))
	}
	return Int32(int32(v))
}

// Uint creates a 32-bit unsigned value. Values outside the uint32 range
// panic.
func Uint(v int) Argument {
	if v < 0 || uint64(v) > math.MaxUint32 {
		panic(fmt.Sprintf("value %d does not fit in uint32", v))
	}
	return Uint32(uint32(v))
}

// Bool creates a one byte boolean value
func Bool(v bool) Argument {
	b := byte(0)
	if v {
		b = 1
	}
	return value(builder.Bool, 1, []byte{b})
}

// Constant creates a value from a raw little-endian payload. The payload
// must hold 1 to 4 elements of dt.
func Constant(dt builder.DataType, raw []byte) Argument {
	size := builder.SizeOfType(dt)
	if size == 0 || len(raw) == 0 || len(raw)%size != 0 || len(raw)/size > 4 {
		panic(fmt.Sprintf("constant payload of %d bytes is not 1..4 %v elements", len(raw), dt))
	}
	return value(dt, len(raw)/size, append([]byte(nil), raw...))
}

// Buffer binds device memory starting offset bytes into b
func Buffer(b device.Buffer, offset int) Argument {
	if u, ok := b.(interface{ DeviceBuffer() device.Buffer }); ok {
		b = u.DeviceBuffer()
	}
	return Argument{kind: BufferArgument, buffer: b, offset: offset}
}

// Texture binds a device texture
func Texture(t device.Texture) Argument {
	return Argument{kind: TextureArgument, texture: t}
}

// Scratch reserves length bytes of on-chip memory shared by each work-group
func Scratch(length int) Argument {
	return Argument{kind: ScratchArgument, length: length}
}
