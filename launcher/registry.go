// Package launcher runs worker classes from the command line: it resolves a
// registered worker, loads its config file, and drives the supervisor loop,
// with an optional ops HTTP endpoint on the side.
package launcher

import (
	"sort"
	"sync"

	"github.com/adir-intsights/sergeant/worker"
)

// Factory builds the handler for one worker class.
type Factory func() (worker.Handler, error)

// Registry maps worker-class names to factories. A tiny typed wrapper over
// sync.Map.
type Registry struct {
	sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds a name to a factory. The last registration wins.
func (r *Registry) Register(name string, factory Factory) {
	r.Map.Store(name, factory)
}

// Resolve looks up the factory for a worker-class name.
func (r *Registry) Resolve(name string) (Factory, bool) {
	v, ok := r.Map.Load(name)
	if !ok {
		return nil, false
	}

	return v.(Factory), true
}

// Names lists the registered worker classes, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.Map.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)

	return names
}
