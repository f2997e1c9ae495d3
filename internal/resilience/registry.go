package resilience

import (
	"sort"
	"sync"
)

// Registry creates and tracks named circuit breakers. It is passed explicitly
// to the components that need breakers rather than held in a package global.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
}

// NewRegistry creates a registry. defaults is used by Create when the
// supplied config leaves fields unset, and carries shared callbacks.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Create returns the breaker registered under name, creating it with cfg if it
// does not exist. An existing breaker keeps its original config.
func (r *Registry) Create(name string, cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.merge(cfg))
	r.breakers[name] = cb
	return cb
}

// SetDefaults replaces the defaults used by later Create calls. Existing
// breakers keep their config. A nil OnStateChange keeps the current callback.
func (r *Registry) SetDefaults(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = r.defaults.OnStateChange
	}
	r.defaults = cfg
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// GetAll returns all breakers ordered by name.
func (r *Registry) GetAll() []*CircuitBreaker {
	r.mu.RLock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Remove unregisters the breaker. Holders of the instance may keep using it.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// ResetAll forces every registered breaker back to CLOSED.
func (r *Registry) ResetAll() {
	for _, cb := range r.GetAll() {
		cb.Reset()
	}
}

// Snapshot returns the metrics of every registered breaker.
func (r *Registry) Snapshot() []Metrics {
	all := r.GetAll()
	out := make([]Metrics, len(all))
	for i, cb := range all {
		out[i] = cb.Metrics()
	}
	return out
}

func (r *Registry) merge(cfg Config) Config {
	d := r.defaults
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = d.MonitoringPeriod
	}
	if len(cfg.ExpectedErrors) == 0 {
		cfg.ExpectedErrors = d.ExpectedErrors
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = d.OnStateChange
	}
	if cfg.OnFailure == nil {
		cfg.OnFailure = d.OnFailure
	}
	if cfg.OnSuccess == nil {
		cfg.OnSuccess = d.OnSuccess
	}
	return cfg
}
