package outputs

import (
	"slices"
	"sync"

	"go2tv.app/screencastd/internal/core"
)

// Registry is the live output set. It satisfies core.OutputRegistry.
type Registry struct {
	mu      sync.RWMutex
	outputs []core.Output
}

func NewRegistry(outputs []core.Output) *Registry {
	return &Registry{outputs: slices.Clone(outputs)}
}

func (r *Registry) Outputs() []core.Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.outputs)
}

func (r *Registry) Lookup(name string) (core.Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.outputs {
		if o.Name == name {
			return o, true
		}
	}
	return core.Output{}, false
}

// Replace swaps in a new output set and reports the names that appeared and
// disappeared.
func (r *Registry) Replace(outputs []core.Output) (added, removed []string) {
	r.mu.Lock()
	prev := r.outputs
	r.outputs = slices.Clone(outputs)
	r.mu.Unlock()

	has := func(list []core.Output, name string) bool {
		return slices.ContainsFunc(list, func(o core.Output) bool { return o.Name == name })
	}
	for _, o := range outputs {
		if !has(prev, o.Name) {
			added = append(added, o.Name)
		}
	}
	for _, o := range prev {
		if !has(outputs, o.Name) {
			removed = append(removed, o.Name)
		}
	}
	return added, removed
}
