// Package team dispatches specialist analyses and reconciles their results.
package team

import (
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// maxSuggestions caps the "did you mean" list of an unknown specialty.
const maxSuggestions = 3

// Registry maps specialties to the handlers that analyze for them.
// Lookups are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]core.Specialist
	names    map[string]core.Specialty
	logger   *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		handlers: make(map[string]core.Specialist),
		names:    make(map[string]core.Specialty),
		logger:   logger,
	}
}

// Register adds a handler for specialty. A second registration under the
// same name replaces the first.
func (r *Registry) Register(specialty core.Specialty, handler core.Specialist) {
	key := specialty.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handlers[key]; ok {
		r.logger.Warn("replacing registered specialist",
			"specialty", string(specialty),
			"previous", prev.Name(),
			"agent", handler.Name(),
		)
	}
	r.handlers[key] = handler
	r.names[key] = specialty
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (core.Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[core.Specialty(name).Key()]
	return h, ok
}

// List returns the registered specialties sorted by name.
func (r *Registry) List() []core.Specialty {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []core.Specialty {
	out := make([]core.Specialty, 0, len(r.names))
	for _, s := range r.names {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the handlers for names in request order, skipping repeats.
// An empty list resolves every registered specialty. The first unknown name
// fails the whole call with an UNKNOWN_SPECIALTY validation error.
func (r *Registry) Resolve(names []string) ([]core.Specialist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		all := r.listLocked()
		out := make([]core.Specialist, 0, len(all))
		for _, s := range all {
			out = append(out, r.handlers[s.Key()])
		}
		return out, nil
	}

	out := make([]core.Specialist, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := core.Specialty(name).Key()
		if seen[key] {
			continue
		}
		h, ok := r.handlers[key]
		if !ok {
			return nil, core.ErrUnknownSpecialty(strings.TrimSpace(name), r.suggestLocked(key))
		}
		seen[key] = true
		out = append(out, h)
	}
	return out, nil
}

// suggestLocked returns registered specialties resembling key, best first.
func (r *Registry) suggestLocked(key string) []string {
	if key == "" {
		return nil
	}
	keys := make([]string, 0, len(r.names))
	for k := range r.names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, m := range fuzzy.Find(key, keys) {
		out = append(out, string(r.names[m.Str]))
		if len(out) == maxSuggestions {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}
	// Typos with extra letters: the registered name is a subsequence of the
	// requested one.
	for _, k := range keys {
		if len(fuzzy.Find(k, []string{key})) > 0 {
			out = append(out, string(r.names[k]))
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}
