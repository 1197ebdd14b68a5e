// runner/types.go
package runner

import (
	"encoding/binary"
	"fmt"

	"github.com/notargets/ComputeKernel/runner/builder"
)

// Element is a host type that maps one to one onto a device element type
type Element interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64
}

// DataTypeOf returns the device element type of T
func DataTypeOf[T Element]() builder.DataType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return builder.INT8
	case int16:
		return builder.INT16
	case int32:
		return builder.INT32
	case int64:
		return builder.INT64
	case uint8:
		return builder.UINT8
	case uint16:
		return builder.UINT16
	case uint32:
		return builder.UINT32
	case uint64:
		return builder.UINT64
	case float32:
		return builder.Float32
	default:
		return builder.Float64
	}
}

// SizeOf returns the size in bytes of one T
func SizeOf[T Element]() int {
	return builder.SizeOfType(DataTypeOf[T]())
}

// encodeElements serializes values little-endian, the byte order every
// supported device uses
func encodeElements[T Element](values []T) []byte {
	out, err := binary.Append(make([]byte, 0, len(values)*SizeOf[T]()), binary.LittleEndian, values)
	if err != nil {
		panic(fmt.Sprintf("encoding %d %v elements: %v", len(values), DataTypeOf[T](), err))
	}
	return out
}

func decodeElements[T Element](raw []byte, values []T) error {
	if _, err := binary.Decode(raw, binary.LittleEndian, values); err != nil {
		return fmt.Errorf("decoding %d %v elements: %w", len(values), DataTypeOf[T](), err)
	}
	return nil
}
