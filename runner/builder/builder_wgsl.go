package builder

import (
	"fmt"
	"regexp"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// ParseWGSLBindings reflects the bind group 0 resources of a WGSL module.
// Storage buffers reflect as buffers, uniforms as inline values and images
// as textures. Slots are binding indices. With a non-empty entry only the
// resources that entry point reaches, directly or through the functions it
// calls, are reported.
//
// Array lengths must be resolvable, so overrides used as array sizes should
// be specialized with SpecializeWGSL first.
func ParseWGSLBindings(src, entry string) (Reflection, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WGSL: %w", err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("failed to lower WGSL: %w", err)
	}

	var used map[ir.GlobalVariableHandle]bool
	if entry != "" {
		ep := findEntryPoint(module, entry)
		if ep == nil {
			return nil, fmt.Errorf("entry point %s not found in source", entry)
		}
		used = make(map[ir.GlobalVariableHandle]bool)
		markGlobals(module, &ep.Function, used, make(map[ir.FunctionHandle]bool))
	}

	var refl Reflection
	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		if gv.Binding == nil {
			continue
		}
		if used != nil && !used[ir.GlobalVariableHandle(i)] {
			continue
		}
		if gv.Binding.Group != 0 {
			return nil, fmt.Errorf("resource %s uses bind group %d, only group 0 is supported", gv.Name, gv.Binding.Group)
		}

		b := Binding{Name: gv.Name, Slot: int(gv.Binding.Binding)}
		inner := module.Types[gv.Type].Inner
		switch gv.Space {
		case ir.SpaceStorage:
			b.Kind = BindingBuffer
		case ir.SpaceUniform:
			b.Kind = BindingValue
		case ir.SpaceHandle:
			if _, ok := inner.(ir.ImageType); !ok {
				return nil, fmt.Errorf("resource %s: only image handles are supported", gv.Name)
			}
			b.Kind = BindingTexture
		default:
			return nil, fmt.Errorf("resource %s has unsupported address space %d", gv.Name, gv.Space)
		}
		b.DataType = wgslElementType(module, inner)
		refl = append(refl, b)
	}
	return refl, refl.Validate()
}

func findEntryPoint(module *ir.Module, name string) *ir.EntryPoint {
	for i := range module.EntryPoints {
		if module.EntryPoints[i].Name == name {
			return &module.EntryPoints[i]
		}
	}
	return nil
}

// markGlobals records every global variable fn references and follows its
// calls
func markGlobals(module *ir.Module, fn *ir.Function, used map[ir.GlobalVariableHandle]bool,
	visited map[ir.FunctionHandle]bool) {
	for _, expr := range fn.Expressions {
		if g, ok := expr.Kind.(ir.ExprGlobalVariable); ok {
			used[g.Variable] = true
		}
	}
	walkCalls(fn.Body, func(h ir.FunctionHandle) {
		if visited[h] || int(h) >= len(module.Functions) {
			return
		}
		visited[h] = true
		markGlobals(module, &module.Functions[h], used, visited)
	})
}

func walkCalls(block ir.Block, call func(ir.FunctionHandle)) {
	for _, stmt := range block {
		switch s := stmt.Kind.(type) {
		case ir.StmtCall:
			call(s.Function)
		case ir.StmtBlock:
			walkCalls(s.Block, call)
		case ir.StmtIf:
			walkCalls(s.Accept, call)
			walkCalls(s.Reject, call)
		case ir.StmtSwitch:
			for _, c := range s.Cases {
				walkCalls(c.Body, call)
			}
		case ir.StmtLoop:
			walkCalls(s.Body, call)
			walkCalls(s.Continuing, call)
		}
	}
}

// wgslElementType finds the scalar a resource is made of. Structs and
// images report no element type.
func wgslElementType(module *ir.Module, inner ir.TypeInner) DataType {
	switch t := inner.(type) {
	case ir.ScalarType:
		return scalarDataType(t)
	case ir.VectorType:
		return scalarDataType(t.Scalar)
	case ir.AtomicType:
		return scalarDataType(t.Scalar)
	case ir.ArrayType:
		return wgslElementType(module, module.Types[t.Base].Inner)
	}
	return 0
}

func scalarDataType(s ir.ScalarType) DataType {
	switch s.Kind {
	case ir.ScalarFloat:
		if s.Width == 8 {
			return Float64
		}
		return Float32
	case ir.ScalarSint:
		if s.Width == 8 {
			return INT64
		}
		return INT32
	case ir.ScalarUint:
		if s.Width == 8 {
			return UINT64
		}
		return UINT32
	case ir.ScalarBool:
		return Bool
	}
	return 0
}

var wgslOverride = regexp.MustCompile(`override\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?::\s*([A-Za-z0-9_<>]+))?\s*(?:=\s*([^;]+))?;`)

// SpecializeWGSL rewrites pipeline-overridable constants into module
// constants carrying the values from the table. Overrides without a table
// entry are left for the pipeline to resolve from their defaults.
func SpecializeWGSL(src string, constants ConstantTable) (string, error) {
	var firstErr error
	out := wgslOverride.ReplaceAllStringFunc(src, func(decl string) string {
		m := wgslOverride.FindStringSubmatch(decl)
		c, ok := constants[m[1]]
		if !ok {
			return decl
		}
		lit, err := c.Literal(WGSL)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("constant %s: %w", m[1], err)
		}
		typ := m[2]
		if typ == "" {
			typ = WGSLTypeName(c.DataType)
		}
		if typ == "" {
			return fmt.Sprintf("const %s = %s;", m[1], lit)
		}
		return fmt.Sprintf("const %s: %s = %s;", m[1], typ, lit)
	})
	return out, firstErr
}
