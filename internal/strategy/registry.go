package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Info describes a registered strategy for status APIs.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// Registry manages a named collection of strategies that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Builtin returns a registry holding every strategy shipped with the bot.
func Builtin() *Registry {
	r := NewRegistry()
	for _, s := range []Strategy{Default{}, Sniper{}, Momentum{}, Conservative{}, Degen{}} {
		r.Register(s)
	}
	return r
}

// Register adds s under its name, replacing any strategy of the same name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo describes every registered strategy, flagging active.
func (r *Registry) ListInfo(active string) []Info {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(names))
	for _, n := range names {
		infos = append(infos, Info{
			Name:        n,
			Description: r.strategies[n].Description(),
			Active:      n == active,
		})
	}
	return infos
}
