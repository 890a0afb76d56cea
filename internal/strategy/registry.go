// Package strategy holds the pluggable entry/exit rules and the registry the
// engine resolves configured rule names against.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jtersteeg/tidebot/internal/domain"
)

// RuleSet pairs the entry and exit rules the engine evaluates each bar.
type RuleSet struct {
	Entry domain.Rule
	Exit  domain.Rule
}

// Registry manages a named collection of rules that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]domain.Rule
}

// NewRegistry returns a Registry preloaded with the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]domain.Rule)}
	r.Register(NewMeanReversionEntry(DefaultMeanReversionParams()))
	r.Register(NewMeanReversionExit(DefaultMeanReversionParams()))
	r.Register(NewMomentumEntry(DefaultMomentumParams()))
	r.Register(NewMomentumExit(DefaultMomentumParams()))
	return r
}

// Register adds a rule under its own name, replacing any previous entry.
func (r *Registry) Register(rule domain.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Name()] = rule
}

// Get retrieves a rule by name.
func (r *Registry) Get(name string) (domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("strategy: rule %q: not registered", name)
	}
	return rule, nil
}

// Build resolves a RuleSet from configured rule names.
func (r *Registry) Build(entryName, exitName string) (RuleSet, error) {
	entry, err := r.Get(entryName)
	if err != nil {
		return RuleSet{}, err
	}
	exit, err := r.Get(exitName)
	if err != nil {
		return RuleSet{}, err
	}
	return RuleSet{Entry: entry, Exit: exit}, nil
}

// List returns the names of all registered rules in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rules))
	for n := range r.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
