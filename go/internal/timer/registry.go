package timer

import "sync"

// Registry is the in-memory mapping from access code to timer entry. Pure
// storage: no validation, no transition logic. Entries are never deleted;
// stale timers simply sit at their last state.
type Registry struct {
	mu     sync.RWMutex
	timers map[string]*Timer
}

func NewRegistry() *Registry {
	return &Registry{
		timers: make(map[string]*Timer),
	}
}

// Get returns the entry for an access code, if one exists.
func (r *Registry) Get(accessCode string) (*Timer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.timers[accessCode]
	return t, ok
}

// Set stores or replaces the entry for an access code.
func (r *Registry) Set(accessCode string, t *Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timers[accessCode] = t
}

// All returns every entry. Iteration order is unspecified; it only affects
// diagnostic listings.
func (r *Registry) All() []*Timer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Timer, 0, len(r.timers))
	for _, t := range r.timers {
		all = append(all, t)
	}
	return all
}
