package builder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GenerateKernelSignature generates the parameter list for a kernel in the
// given language, in declaration order
func GenerateKernelSignature(lang Language, params []*ParamBuilder) (string, error) {
	decls := make([]string, 0, len(params))
	for _, p := range params {
		if err := p.Spec.Validate(); err != nil {
			return "", err
		}
		decl, err := paramDeclaration(lang, &p.Spec)
		if err != nil {
			return "", err
		}
		decls = append(decls, decl)
	}
	return strings.Join(decls, ",\n\t"), nil
}

// GenerateKernelDeclaration generates a complete kernel function declaration
func GenerateKernelDeclaration(lang Language, kernelName string, params []*ParamBuilder) (string, error) {
	sig, err := GenerateKernelSignature(lang, params)
	if err != nil {
		return "", err
	}
	switch lang {
	case OKL:
		return fmt.Sprintf("@kernel void %s(\n\t%s\n)", kernelName, sig), nil
	case OpenCL:
		return fmt.Sprintf("__kernel void %s(\n\t%s\n)", kernelName, sig), nil
	default:
		return "", fmt.Errorf("cannot generate a %v kernel declaration", lang)
	}
}

func paramDeclaration(lang Language, p *ParamSpec) (string, error) {
	typ := CTypeName(p.DataType)
	if p.Width > 1 {
		if lang != OpenCL {
			return "", fmt.Errorf("vector parameter %s needs OpenCL", p.Name)
		}
		typ = openclVectorBase(p.DataType) + strconv.Itoa(p.Width)
	}

	constStr := ""
	if p.IsConst() {
		constStr = "const "
	}

	switch lang {
	case OKL:
		switch p.Direction {
		case DirectionScalar:
			return fmt.Sprintf("const %s %s", typ, p.Name), nil
		case DirectionInput, DirectionOutput, DirectionInOut:
			return fmt.Sprintf("%s%s* %s", constStr, typ, p.Name), nil
		default:
			return "", fmt.Errorf("parameter %s: OKL declares shared memory and images inside the kernel", p.Name)
		}
	case OpenCL:
		switch p.Direction {
		case DirectionScalar:
			return fmt.Sprintf("const %s %s", typ, p.Name), nil
		case DirectionTemp:
			return fmt.Sprintf("__local %s* %s", typ, p.Name), nil
		case DirectionImage:
			return fmt.Sprintf("__read_write image2d_t %s", p.Name), nil
		default:
			return fmt.Sprintf("__global %s%s* %s", constStr, typ, p.Name), nil
		}
	}
	return "", fmt.Errorf("unsupported kernel language %v", lang)
}

var (
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	identifier   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	vectorSuffix = regexp.MustCompile(`^([a-z]+?)(2|3|4|8|16)$`)
)

// ParseKernelSignature extracts the reflected argument list of an OKL
// (@kernel) or OpenCL C (__kernel) entry point from its source text
func ParseKernelSignature(lang Language, src, entry string) (Reflection, error) {
	src = blockComment.ReplaceAllString(lineComment.ReplaceAllString(src, ""), "")

	var marker *regexp.Regexp
	switch lang {
	case OKL:
		marker = regexp.MustCompile(`@kernel\s+void\s+` + regexp.QuoteMeta(entry) + `\s*\(`)
	case OpenCL:
		marker = regexp.MustCompile(`(?:__kernel|kernel)\s+void\s+` + regexp.QuoteMeta(entry) + `\s*\(`)
	default:
		return nil, fmt.Errorf("cannot parse %v kernel signatures", lang)
	}

	loc := marker.FindStringIndex(src)
	if loc == nil {
		return nil, fmt.Errorf("kernel %s not found in source", entry)
	}
	rest := src[loc[1]:]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return nil, fmt.Errorf("kernel %s: unterminated parameter list", entry)
	}

	list := strings.TrimSpace(rest[:end])
	if list == "" || list == "void" {
		return Reflection{}, nil
	}

	var refl Reflection
	for i, raw := range strings.Split(list, ",") {
		b, err := parseCParam(raw)
		if err != nil {
			return nil, fmt.Errorf("kernel %s parameter %d: %w", entry, i, err)
		}
		b.Slot = i
		refl = append(refl, b)
	}
	return refl, refl.Validate()
}

func parseCParam(raw string) (Binding, error) {
	decl := strings.ReplaceAll(raw, "*", " * ")
	fields := strings.Fields(decl)
	if len(fields) < 2 {
		return Binding{}, fmt.Errorf("cannot parse %q", strings.TrimSpace(raw))
	}

	b := Binding{Name: fields[len(fields)-1], Kind: BindingValue}
	if !identifier.MatchString(b.Name) {
		return Binding{}, fmt.Errorf("bad parameter name %q", b.Name)
	}

	local := false
	var base []string
	for _, f := range fields[:len(fields)-1] {
		switch f {
		case "*":
			b.Kind = BindingBuffer
		case "__local", "local":
			local = true
		case "const", "__global", "global", "__constant", "constant", "restrict",
			"__restrict__", "@restrict", "__read_only", "read_only", "__write_only",
			"write_only", "__read_write", "read_write", "volatile":
		default:
			base = append(base, f)
		}
	}

	typ := strings.Join(base, " ")
	if strings.HasPrefix(typ, "image") {
		b.Kind = BindingTexture
		return b, nil
	}
	if local && b.Kind == BindingBuffer {
		b.Kind = BindingScratch
	}
	if m := vectorSuffix.FindStringSubmatch(typ); m != nil {
		typ = m[1]
	}
	if dt, ok := ParseCType(typ); ok {
		b.DataType = dt
	}
	return b, nil
}
