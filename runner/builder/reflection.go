package builder

import (
	"fmt"
)

// BindingKind classifies what a kernel slot accepts
type BindingKind int

const (
	BindingBuffer BindingKind = iota + 1
	BindingValue
	BindingScratch
	BindingTexture
)

func (k BindingKind) String() string {
	switch k {
	case BindingBuffer:
		return "buffer"
	case BindingValue:
		return "value"
	case BindingScratch:
		return "scratch"
	case BindingTexture:
		return "texture"
	default:
		return fmt.Sprintf("BindingKind(%d)", int(k))
	}
}

// Binding is one reflected kernel argument
type Binding struct {
	Name     string
	Slot     int
	Kind     BindingKind
	DataType DataType
}

// Reflection is the argument metadata a device reports for a pipeline,
// in slot order
type Reflection []Binding

// Slots projects the reflection to a name to slot map
func (r Reflection) Slots() map[string]int {
	slots := make(map[string]int, len(r))
	for _, b := range r {
		slots[b.Name] = b.Slot
	}
	return slots
}

// Lookup finds a binding by name
func (r Reflection) Lookup(name string) (Binding, bool) {
	for _, b := range r {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Validate rejects empty names and duplicate names or slots
func (r Reflection) Validate() error {
	names := make(map[string]bool, len(r))
	slots := make(map[int]string, len(r))
	for _, b := range r {
		if b.Name == "" {
			return fmt.Errorf("slot %d has no name", b.Slot)
		}
		if names[b.Name] {
			return fmt.Errorf("argument %s is reflected twice", b.Name)
		}
		if other, ok := slots[b.Slot]; ok {
			return fmt.Errorf("arguments %s and %s share slot %d", other, b.Name, b.Slot)
		}
		names[b.Name] = true
		slots[b.Slot] = b.Name
	}
	return nil
}
