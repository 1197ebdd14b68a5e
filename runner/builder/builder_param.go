package builder

import (
	"fmt"
)

// Direction indicates parameter data flow
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionInOut
	DirectionTemp
	DirectionScalar
	DirectionImage
)

// ParamBuilder provides a fluent interface for declaring kernel parameters
type ParamBuilder struct {
	Spec ParamSpec
}

// ParamSpec holds the complete specification for a kernel parameter
type ParamSpec struct {
	Name      string
	Direction Direction

	// Element type and vector width of the parameter
	DataType DataType
	Width    int

	// Element count, only meaningful for Temp scratch arrays
	Size int64
}

// Input creates a parameter specification for a const input buffer
func Input(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionInput)
}

// Output creates a parameter specification for a non-const output buffer
func Output(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionOutput)
}

// InOut creates a parameter specification for a non-const input/output buffer
func InOut(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionInOut)
}

// Scalar creates a parameter specification for an inline value
func Scalar(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionScalar)
}

// Temp creates a parameter specification for on-chip scratch memory shared
// by the threads of one work-group
func Temp(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionTemp)
}

// Image creates a parameter specification for a texture
func Image(deviceName string) *ParamBuilder {
	return newParam(deviceName, DirectionImage)
}

func newParam(name string, dir Direction) *ParamBuilder {
	return &ParamBuilder{
		Spec: ParamSpec{
			Name:      name,
			Direction: dir,
			Width:     1,
		},
	}
}

// Type sets the element type
func (p *ParamBuilder) Type(dataType DataType) *ParamBuilder {
	p.Spec.DataType = dataType
	return p
}

// Vector sets the vector width of an inline value
func (p *ParamBuilder) Vector(width int) *ParamBuilder {
	p.Spec.Width = width
	return p
}

// Size sets the element count of a Temp array
func (p *ParamBuilder) Size(elements int) *ParamBuilder {
	p.Spec.Size = int64(elements)
	return p
}

// Validate checks if the parameter specification is complete and valid
func (p *ParamSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if p.DataType == 0 {
		return fmt.Errorf("parameter %s needs type", p.Name)
	}
	if p.Width < 1 || p.Width > 4 {
		return fmt.Errorf("parameter %s has vector width %d, must be 1..4", p.Name, p.Width)
	}
	if p.Width > 1 && p.Direction != DirectionScalar {
		return fmt.Errorf("only scalars can be vectors, %s is not a scalar", p.Name)
	}
	if p.Size != 0 && p.Direction != DirectionTemp {
		return fmt.Errorf("only temp arrays have a fixed size, %s is not temp", p.Name)
	}
	return nil
}

// IsConst returns whether this parameter should be const in the kernel signature
func (p *ParamSpec) IsConst() bool {
	switch p.Direction {
	case DirectionInput, DirectionScalar:
		return true
	default:
		return false
	}
}

// Kind returns how arguments for this parameter are bound
func (p *ParamSpec) Kind() BindingKind {
	switch p.Direction {
	case DirectionScalar:
		return BindingValue
	case DirectionTemp:
		return BindingScratch
	case DirectionImage:
		return BindingTexture
	default:
		return BindingBuffer
	}
}

// Reflect produces the binding table for an ordered parameter list. Slots
// follow declaration order.
func Reflect(params []*ParamBuilder) Reflection {
	refl := make(Reflection, 0, len(params))
	for i, p := range params {
		refl = append(refl, Binding{
			Name:     p.Spec.Name,
			Slot:     i,
			Kind:     p.Spec.Kind(),
			DataType: p.Spec.DataType,
		})
	}
	return refl
}
