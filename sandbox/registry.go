package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Implementation is a workflow program. Execute may return a plain value, a
// *scheduler.Future that settles later, or an error; workflow code must be
// deterministic and only observe the world through its Context.
type Implementation interface {
	Execute(ctx *Context, args []any) (any, error)
}

// Func is a function-based workflow implementation.
type Func func(ctx *Context, args []any) (any, error)

// Execute implements Implementation.
func (f Func) Execute(ctx *Context, args []any) (any, error) {
	return f(ctx, args)
}

// Definition holds a workflow implementation and its metadata. Name is the
// workflow type the coordinator sends in start jobs; Version only
// distinguishes deployed revisions in logs and errors, the coordinator never
// routes on it.
type Definition struct {
	Name        string
	Description string
	Version     string
	Impl        Implementation
}

// ErrNotRegistered reports a workflow type no definition was installed for.
// A start job naming such a type is an activation failure, not a workflow
// outcome.
var ErrNotRegistered = errors.New("workflow type not registered")

// Registry maps workflow types to their definitions. Registration happens at
// process wiring time; activations only read, so lookups take the read lock.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register installs a definition under its workflow type. A type can be
// installed once per registry; deploying a new revision means a new worker,
// not a live swap, so re-registration is always a wiring bug.
func (r *Registry) Register(def *Definition) error {
	switch {
	case def == nil:
		return errors.New("register workflow: nil definition")
	case def.Name == "":
		return errors.New("register workflow: definition has no workflow type")
	case def.Impl == nil:
		return fmt.Errorf("register workflow %q: definition has no implementation", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("register workflow %q: type already bound to version %q", def.Name, prev.Version)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister is Register for process wiring, where a bad definition should
// stop startup.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition for a workflow type. The error wraps
// ErrNotRegistered so callers can classify the failure.
func (r *Registry) Resolve(workflowType string) (*Definition, error) {
	r.mu.RLock()
	def := r.defs[workflowType]
	r.mu.RUnlock()

	if def == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, workflowType)
	}
	return def, nil
}

// Types returns the registered workflow types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.defs))
	for name := range r.defs {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry serves sandboxes created without an explicit registry.
var DefaultRegistry = NewRegistry()
