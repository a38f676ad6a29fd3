package game

import (
	"fmt"
	"slices"
	"sync"

	"faceup-server/internal/model"
)

// Registry maps betting modes to their rules. It is safe for concurrent use.
type Registry struct {
	rules map[model.Mode]Rules
	mu    sync.RWMutex
}

// NewRegistry creates a registry holding rules.
func NewRegistry(rules ...Rules) (*Registry, error) {
	r := &Registry{rules: make(map[model.Mode]Rules, len(rules))}
	for _, rl := range rules {
		if err := r.Register(rl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces the rules for rl.Mode.
func (r *Registry) Register(rl Rules) error {
	if err := rl.Validate(); err != nil {
		return fmt.Errorf("register rules: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rl.Mode] = rl
	return nil
}

// Get returns the rules of mode.
func (r *Registry) Get(mode model.Mode) (Rules, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.rules[mode]
	return rl, ok
}

// Modes returns the registered modes in sorted order.
func (r *Registry) Modes() []model.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]model.Mode, 0, len(r.rules))
	for m := range r.rules {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	return modes
}

// Count returns the number of registered modes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
