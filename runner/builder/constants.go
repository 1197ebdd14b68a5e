package builder

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Constant is a typed specialization value baked into a pipeline at build
// time. Width is the vector width (1 for scalars) and Data holds Width
// little-endian elements.
type Constant struct {
	DataType DataType
	Width    int
	Data     []byte
}

// ConstantTable maps constant names to their typed payloads
type ConstantTable map[string]Constant

// NewConstantTable creates an empty table
func NewConstantTable() ConstantTable {
	return make(ConstantTable)
}

// Set stores a constant, replacing any previous value of the same name
func (ct ConstantTable) Set(name string, dt DataType, width int, data []byte) error {
	if name == "" {
		return fmt.Errorf("constant name cannot be empty")
	}
	size := SizeOfType(dt)
	if size == 0 {
		return fmt.Errorf("constant %s has unknown type %v", name, dt)
	}
	if width < 1 || width > 4 {
		return fmt.Errorf("constant %s has vector width %d, must be 1..4", name, width)
	}
	if len(data) != size*width {
		return fmt.Errorf("constant %s: payload is %d bytes, want %d", name, len(data), size*width)
	}
	ct[name] = Constant{DataType: dt, Width: width, Data: append([]byte(nil), data...)}
	return nil
}

// Names returns the constant names in sorted order
func (ct ConstantTable) Names() []string {
	names := make([]string, 0, len(ct))
	for name := range ct {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the table
func (ct ConstantTable) Clone() ConstantTable {
	out := make(ConstantTable, len(ct))
	for name, c := range ct {
		c.Data = append([]byte(nil), c.Data...)
		out[name] = c
	}
	return out
}

// Element decodes element i of the payload as an int64, uint64 or float64
// depending on the constant's type.
func (c Constant) Element(i int) any {
	size := SizeOfType(c.DataType)
	b := c.Data[i*size : (i+1)*size]
	switch c.DataType {
	case Bool:
		return b[0] != 0
	case INT8:
		return int64(int8(b[0]))
	case UINT8:
		return uint64(b[0])
	case INT16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case UINT16:
		return uint64(binary.LittleEndian.Uint16(b))
	case INT32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case UINT32:
		return uint64(binary.LittleEndian.Uint32(b))
	case INT64:
		return int64(binary.LittleEndian.Uint64(b))
	case UINT64:
		return binary.LittleEndian.Uint64(b)
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return nil
}

// Literal renders the constant as a source literal in the given language
func (c Constant) Literal(lang Language) (string, error) {
	elems := make([]string, c.Width)
	for i := range elems {
		elems[i] = c.elementLiteral(lang, i)
	}
	if c.Width == 1 {
		return elems[0], nil
	}

	switch lang {
	case OpenCL:
		return fmt.Sprintf("(%s%d)(%s)", openclVectorBase(c.DataType), c.Width,
			strings.Join(elems, ",")), nil
	case WGSL:
		t := WGSLTypeName(c.DataType)
		if t == "" {
			return "", fmt.Errorf("type %v has no WGSL vector form", c.DataType)
		}
		return fmt.Sprintf("vec%d<%s>(%s)", c.Width, t, strings.Join(elems, ",")), nil
	default:
		return "", fmt.Errorf("vector constants are not supported in %v source", lang)
	}
}

func (c Constant) elementLiteral(lang Language, i int) string {
	switch v := c.Element(i).(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		switch {
		case lang == WGSL && c.DataType == INT32:
			return strconv.FormatInt(v, 10) + "i"
		case c.DataType == INT64:
			return strconv.FormatInt(v, 10) + "L"
		}
		return strconv.FormatInt(v, 10)
	case uint64:
		switch c.DataType {
		case UINT64:
			return strconv.FormatUint(v, 10) + "UL"
		case UINT32:
			return strconv.FormatUint(v, 10) + "u"
		}
		return strconv.FormatUint(v, 10)
	case float64:
		bits := 64
		if c.DataType == Float32 {
			bits = 32
		}
		s := strconv.FormatFloat(v, 'g', -1, bits)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		if c.DataType == Float32 {
			s += "f"
		}
		return s
	}
	return "0"
}

func openclVectorBase(dt DataType) string {
	switch dt {
	case UINT8:
		return "uchar"
	case UINT16:
		return "ushort"
	case UINT32:
		return "uint"
	case UINT64:
		return "ulong"
	default:
		return CTypeName(dt)
	}
}

// GeneratePreamble generates the #define block that bakes the constants into
// OKL or OpenCL C source. Names are emitted in sorted order so the preamble
// of a table is stable.
func GeneratePreamble(lang Language, constants ConstantTable) (string, error) {
	if lang != OKL && lang != OpenCL {
		return "", fmt.Errorf("cannot generate a %v preamble", lang)
	}
	var sb strings.Builder
	for _, name := range constants.Names() {
		lit, err := constants[name].Literal(lang)
		if err != nil {
			return "", fmt.Errorf("constant %s: %w", name, err)
		}
		sb.WriteString(fmt.Sprintf("#define %s %s\n", name, lit))
	}
	return sb.String(), nil
}
