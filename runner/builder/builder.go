package builder

import (
	"fmt"
)

// DataType represents the element type of kernel data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
	INT8
	INT16
	UINT8
	UINT16
	UINT32
	UINT64
	Bool
)

// SizeOfType returns the size in bytes of a data type
func SizeOfType(dt DataType) int {
	switch dt {
	case INT8, UINT8, Bool:
		return 1
	case INT16, UINT16:
		return 2
	case Float32, INT32, UINT32:
		return 4
	case Float64, INT64, UINT64:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether dt is a signed or unsigned integer type
func (dt DataType) IsInteger() bool {
	switch dt {
	case INT8, INT16, INT32, INT64, UINT8, UINT16, UINT32, UINT64:
		return true
	}
	return false
}

// IsSigned reports whether dt carries a sign
func (dt DataType) IsSigned() bool {
	switch dt {
	case INT8, INT16, INT32, INT64, Float32, Float64:
		return true
	}
	return false
}

// IsFloat reports whether dt is a floating point type
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case INT8:
		return "int8"
	case INT16:
		return "int16"
	case INT32:
		return "int32"
	case INT64:
		return "int64"
	case UINT8:
		return "uint8"
	case UINT16:
		return "uint16"
	case UINT32:
		return "uint32"
	case UINT64:
		return "uint64"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// CTypeName returns the C type name used by OKL and OpenCL C kernels
func CTypeName(dt DataType) string {
	switch dt {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case INT8:
		return "char"
	case INT16:
		return "short"
	case INT32:
		return "int"
	case INT64:
		return "long"
	case UINT8:
		return "unsigned char"
	case UINT16:
		return "unsigned short"
	case UINT32:
		return "unsigned int"
	case UINT64:
		return "unsigned long"
	case Bool:
		return "bool"
	default:
		return "void"
	}
}

// WGSLTypeName returns the WGSL scalar type for dt. WGSL has no 8, 16 or
// 64 bit integers and no f64, so those map to the empty string.
func WGSLTypeName(dt DataType) string {
	switch dt {
	case Float32:
		return "f32"
	case INT32:
		return "i32"
	case UINT32:
		return "u32"
	case Bool:
		return "bool"
	default:
		return ""
	}
}

// ParseCType maps a C scalar type spelling back to a DataType. Qualifiers
// such as const, global and restrict must already be stripped.
func ParseCType(name string) (DataType, bool) {
	switch name {
	case "float", "real_t":
		return Float32, true
	case "double":
		return Float64, true
	case "char", "int8_t":
		return INT8, true
	case "short", "int16_t":
		return INT16, true
	case "int", "int32_t", "int_t":
		return INT32, true
	case "long", "int64_t", "long long":
		return INT64, true
	case "uchar", "unsigned char", "uint8_t":
		return UINT8, true
	case "ushort", "unsigned short", "uint16_t":
		return UINT16, true
	case "uint", "unsigned", "unsigned int", "uint32_t":
		return UINT32, true
	case "ulong", "unsigned long", "uint64_t":
		return UINT64, true
	case "bool":
		return Bool, true
	}
	return 0, false
}
