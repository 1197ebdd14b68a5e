package runner

import (
	"sort"
)

// Arguments maps parameter names to the arguments staged for them. Setting
// a name replaces its previous argument.
type Arguments map[string]Argument

// NewArguments creates an empty argument map
func NewArguments() Arguments {
	return make(Arguments)
}

// Set stages arg under name and returns the map for chaining
func (a Arguments) Set(name string, arg Argument) Arguments {
	a[name] = arg
	return a
}

// Get returns the argument staged under name
func (a Arguments) Get(name string) (Argument, bool) {
	arg, ok := a[name]
	return arg, ok
}

// Delete removes the argument staged under name
func (a Arguments) Delete(name string) {
	delete(a, name)
}

// Names returns the staged names in sorted order
func (a Arguments) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a Arguments) Len() int { return len(a) }

// Merge copies every argument of other into a. Entries of other win.
func (a Arguments) Merge(other Arguments) Arguments {
	for name, arg := range other {
		a[name] = arg
	}
	return a
}

// Clone returns an independent copy
func (a Arguments) Clone() Arguments {
	return NewArguments().Merge(a)
}
