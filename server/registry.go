package server

import (
	"fmt"
	"sync"
)

// Registry maps a ProtocolId to the ServiceFactory that serves it,
// adapted from the teacher's rpc/server/registry.go (string-keyed map
// guarded by a mutex), generalized from "pkg/service/call" keys down to
// plain protocol strings since spec.md's factory contract is keyed by
// ProtocolId alone. Each entry also carries a Descr, the
// NamedProtocolService-equivalent SUPPLEMENT from SPEC_FULL.md's
// "Supplemented features" section, used
// by the supervisor and session for logging and metrics labeling.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	factory ServiceFactory
	descr   Descr
}

// ErrAlreadyRegistered is returned by Register when protocol already has
// a factory.
var ErrAlreadyRegistered = fmt.Errorf("server: protocol already registered")

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds factory for protocol, with a Descr whose Service field
// is protocol itself (no finer package/method breakdown available).
// Returns ErrAlreadyRegistered if protocol already has a factory.
func (r *Registry) Register(protocol string, factory ServiceFactory) error {
	return r.RegisterNamed(Descr{Service: protocol}, protocol, factory)
}

// RegisterNamed adds factory for protocol with an explicit Descr,
// for callers that can name their package/service/method triple (see
// examples/echo and examples/health in cmd/peerrpcd).
func (r *Registry) RegisterNamed(descr Descr, protocol string, factory ServiceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[protocol]; ok {
		return ErrAlreadyRegistered
	}
	r.entries[protocol] = registryEntry{factory: factory, descr: descr}
	return nil
}

// Lookup returns the factory and Descr registered for protocol, if any.
func (r *Registry) Lookup(protocol string) (ServiceFactory, Descr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[protocol]
	return e.factory, e.descr, ok
}
