package cpu

import (
	"fmt"
	"sort"
	"sync"

	"github.com/notargets/ComputeKernel/runner/builder"
)

// Kernel is a natively implemented compute kernel. Func runs once per
// work-group; its threads are expressed with Group.Threads.
type Kernel struct {
	Name   string
	Params []*builder.ParamBuilder

	// MaxThreads caps the work-group size, 0 means the device limit
	MaxThreads int

	// HideReflection makes pipelines built from this kernel report no
	// argument reflection, the way some drivers do for precompiled code
	HideReflection bool

	Func func(g *Group) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]map[string]*Kernel)
)

// Register adds kernels to the named bundle. Registering a kernel name twice
// in one bundle replaces the earlier kernel.
func Register(bundle string, kernels ...*Kernel) {
	if bundle == "" {
		panic("bundle name cannot be empty")
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	set, ok := registry[bundle]
	if !ok {
		set = make(map[string]*Kernel)
		registry[bundle] = set
	}
	for _, k := range kernels {
		if k == nil || k.Name == "" || k.Func == nil {
			panic(fmt.Sprintf("bundle %s: kernel needs a name and a function", bundle))
		}
		set[k.Name] = k
	}
}

// Bundles lists the registered bundle names
func Bundles() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBundle(name string) (map[string]*Kernel, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	set, ok := registry[name]
	if !ok {
		return nil, false
	}
	out := make(map[string]*Kernel, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out, true
}

type library struct {
	id      string
	kernels map[string]*Kernel
}

func (l *library) ID() string { return l.id }
func (l *library) Release()   {}

type pipeline struct {
	kernel     *Kernel
	constants  builder.ConstantTable
	slots      map[string]int
	params     map[int]*builder.ParamSpec
	maxThreads int
	width      int
}

func (p *pipeline) Name() string              { return p.kernel.Name }
func (p *pipeline) MaxThreadsPerGroup() int   { return p.maxThreads }
func (p *pipeline) ThreadExecutionWidth() int { return p.width }
func (p *pipeline) Release()                  {}
