package circuit

import "sync"

// Registry holds the active circuit breakers, one per handler, and ensures
// synchronized access to them. Breakers are created lazily from the default
// settings on first use.
type Registry struct {
	mu       sync.Mutex
	defaults Settings
	lookup   map[string]*Breaker
}

// NewRegistry initializes a registry with the provided default settings.
func NewRegistry(defaults Settings) *Registry {
	return &Registry{
		defaults: defaults.withDefaults(),
		lookup:   make(map[string]*Breaker),
	}
}

// Get returns the circuit breaker for the given handler, creating it when
// it does not exist yet. It returns nil when breakers are disabled, a nil
// breaker admits every call.
func (r *Registry) Get(handler string) *Breaker {
	if r == nil || r.defaults.Disabled {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.lookup[handler]
	if !ok {
		s := r.defaults
		s.Handler = handler
		b = newBreaker(s)
		r.lookup[handler] = b
	}

	return b
}

// Remove drops the breaker of an unregistered handler.
func (r *Registry) Remove(handler string) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lookup, handler)
}
