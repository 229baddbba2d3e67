package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Errors for registry operations.
var (
	ErrInvalidPhase  = errors.New("invalid phase name")
	ErrInvalidPlugin = errors.New("invalid plugin")
	ErrDuplicateKind = errors.New("plugin kind already registered in phase")
)

// Registry maintains the phase name to plugin list mapping. Registration
// happens before processing starts; passes only read from it.
type Registry struct {
	mu     sync.RWMutex
	phases map[string][]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{phases: map[string][]Plugin{}}
}

// Register appends a plugin to the ordered list of a phase. Kinds must be
// unique within a phase and may not contain ':' since arbiter labels are
// "<kind>:<context>".
func (r *Registry) Register(phase string, p Plugin) error {
	name := strings.TrimSpace(phase)
	if name == "" {
		return fmt.Errorf("register: %w: empty", ErrInvalidPhase)
	}
	if p == nil {
		return fmt.Errorf("register %s: %w: nil", name, ErrInvalidPlugin)
	}
	kind := p.Kind()
	if kind == "" || strings.Contains(kind, ":") {
		return fmt.Errorf("register %s: %w: kind %q", name, ErrInvalidPlugin, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.phases[name] {
		if existing.Kind() == kind {
			return fmt.Errorf("register %s: %w: %s", name, ErrDuplicateKind, kind)
		}
	}
	r.phases[name] = append(r.phases[name], p)
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(phase string, p Plugin) {
	if err := r.Register(phase, p); err != nil {
		panic(err)
	}
}

// Phases returns the registered phase names in lexicographic order.
func (r *Registry) Phases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.phases))
	for name := range r.phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plugins returns a copy of the plugin list for phase in registration order.
func (r *Registry) Plugins(phase string) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.phases[phase]...)
}

// Len returns the total number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ps := range r.phases {
		n += len(ps)
	}
	return n
}
