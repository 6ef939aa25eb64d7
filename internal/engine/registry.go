package engine

import (
	"fmt"
	"sort"

	"github.com/joseph-ayodele/docextract/constants"
)

// Registry maps engine identifiers to adapter instances. It is built once at
// startup and read-only afterwards.
type Registry struct {
	adapters map[constants.EngineID]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[constants.EngineID]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter; duplicate identifiers are rejected.
func (r *Registry) Register(a Adapter) error {
	id := a.ID()
	if id == "" {
		return fmt.Errorf("adapter has empty id")
	}
	if _, dup := r.adapters[id]; dup {
		return fmt.Errorf("adapter %q already registered", id)
	}
	r.adapters[id] = a
	return nil
}

// Get returns the adapter for id.
func (r *Registry) Get(id constants.EngineID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []constants.EngineID {
	out := make([]constants.EngineID, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len is the number of registered adapters.
func (r *Registry) Len() int { return len(r.adapters) }
