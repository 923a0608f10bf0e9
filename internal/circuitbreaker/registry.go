package circuitbreaker

import (
	"slices"
	"sync"
)

// Registry hands out one breaker per endpoint name, all sharing a Config.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
	opts     []Option
}

// NewRegistry validates cfg once so GetBreaker cannot fail later.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg,
		opts:     opts,
	}, nil
}

func (r *Registry) GetBreaker(endpoint string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[endpoint]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[endpoint]; exists {
		return cb
	}

	cb = newBreaker(endpoint, r.config, r.opts)
	r.breakers[endpoint] = cb
	return cb
}

// Lookup returns the breaker for endpoint without creating one.
func (r *Registry) Lookup(endpoint string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cb, ok := r.breakers[endpoint]
	return cb, ok
}

// Reset closes every known breaker in place. Callers holding a breaker keep
// a valid reference.
func (r *Registry) Reset() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// ResetBreaker closes the named breaker. It reports false if none exists.
func (r *Registry) ResetBreaker(endpoint string) bool {
	cb, ok := r.Lookup(endpoint)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Stats() map[string]Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// StateValues maps each endpoint to its metrics state code.
func (r *Registry) StateValues() map[string]int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	values := make(map[string]int, len(r.breakers))
	for name, cb := range r.breakers {
		values[name] = cb.StateValue()
	}
	return values
}
