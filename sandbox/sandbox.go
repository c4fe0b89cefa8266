// Package sandbox hosts workflow code in an isolated, deterministic
// environment. Each workflow gets its own microtask loop, a logical clock
// that only moves at activation boundaries, and a pseudorandom source seeded
// from the workflow id, so replaying the same activations reproduces the
// same execution. Host capabilities reach workflow code only through
// explicitly injected callbacks.
package sandbox

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/lockstepd/lockstep/scheduler"
)

// HostFunc is a callback injected into the sandbox, reachable from workflow
// code by its dotted name (e.g. "console.log").
type HostFunc func(args ...any) any

// Sandbox is one workflow's isolated execution environment. No shared
// mutable state exists between sandboxes, so distinct workflows may run on
// distinct goroutines; a single sandbox is driven by one goroutine at a
// time.
type Sandbox struct {
	workflowID string
	registry   *Registry
	loop       *scheduler.Loop
	rng        *rand.Rand
	nowMs      int64

	mu    sync.RWMutex
	hosts map[string]HostFunc
	bound *Definition
}

// New prepares a fresh sandbox for the given workflow id. The pseudorandom
// source is seeded from the id so replays observe identical sequences.
func New(workflowID string, registry *Registry) *Sandbox {
	if registry == nil {
		registry = DefaultRegistry
	}
	seed := int64(xxhash.Sum64String(workflowID))
	return &Sandbox{
		workflowID: workflowID,
		registry:   registry,
		loop:       scheduler.NewLoop(),
		rng:        rand.New(rand.NewSource(seed)),
		hosts:      make(map[string]HostFunc),
	}
}

// WorkflowID returns the id this sandbox was created for.
func (s *Sandbox) WorkflowID() string {
	return s.workflowID
}

// Loop returns the sandbox's microtask loop.
func (s *Sandbox) Loop() *scheduler.Loop {
	return s.loop
}

// Inject installs a host callback. Injection is not retractable within a
// workflow's life; re-injecting a name replaces the callback.
func (s *Sandbox) Inject(name string, fn HostFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[name] = fn
}

// Host looks up an injected callback by name.
func (s *Sandbox) Host(name string) (HostFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.hosts[name]
	return fn, ok
}

// RegisterImplementation binds the sandbox to a registered workflow
// definition, the equivalent of evaluating a workflow script's top level.
func (s *Sandbox) RegisterImplementation(workflowType string) error {
	def, err := s.registry.Resolve(workflowType)
	if err != nil {
		return fmt.Errorf("register implementation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = def
	return nil
}

// Implementation resolves the definition for a workflow type: the bound one
// if its name matches, otherwise a registry lookup.
func (s *Sandbox) Implementation(workflowType string) (*Definition, error) {
	s.mu.RLock()
	bound := s.bound
	s.mu.RUnlock()
	if bound != nil && bound.Name == workflowType {
		return bound, nil
	}
	return s.registry.Resolve(workflowType)
}

// SetNow advances the sandbox's logical clock, in epoch milliseconds. Only
// the activator calls this, once per activation.
func (s *Sandbox) SetNow(ms int64) {
	s.nowMs = ms
}

// NowMs returns the logical clock in epoch milliseconds.
func (s *Sandbox) NowMs() int64 {
	return s.nowMs
}

// Random returns the next value from the workflow's deterministic
// pseudorandom sequence, in [0, 1).
func (s *Sandbox) Random() float64 {
	return s.rng.Float64()
}
