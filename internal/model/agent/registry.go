package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateID    = errors.New("duplicate agent id")
	ErrDuplicateSlash = errors.New("duplicate agent slash")
	ErrNoDefault      = errors.New("default agent missing from catalog")
)

// Store exposes read-only agent lookups to the rest of the core.
type Store interface {
	List() []Config
	ResolveByID(id string) (Config, bool)
	ResolveBySlash(token string) (Config, bool)
	Default() Config
}

// Registry implements Store over a catalog fixed at construction.
type Registry struct {
	items     []Config
	byID      map[string]int
	bySlash   map[string]int
	defaultID string
}

// NewRegistry indexes items. Ids and slashes must be unique; slashes compare case-insensitively.
func NewRegistry(items []Config, defaultID string) (*Registry, error) {
	r := &Registry{
		items:     make([]Config, 0, len(items)),
		byID:      make(map[string]int, len(items)),
		bySlash:   make(map[string]int, len(items)),
		defaultID: defaultID,
	}
	for _, item := range items {
		if _, ok := r.byID[item.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
		}
		key := slashKey(item.Slash)
		if _, ok := r.bySlash[key]; ok && key != "" {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlash, item.Slash)
		}
		r.byID[item.ID] = len(r.items)
		if key != "" {
			r.bySlash[key] = len(r.items)
		}
		r.items = append(r.items, item.clone())
	}
	if _, ok := r.byID[defaultID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDefault, defaultID)
	}
	return r, nil
}

// MustSeedRegistry builds the registry from Seed and panics on a broken built-in catalog.
func MustSeedRegistry() *Registry {
	r, err := NewRegistry(Seed(), DefaultID)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns the catalog in declaration order.
func (r *Registry) List() []Config {
	out := make([]Config, len(r.items))
	for i, item := range r.items {
		out[i] = item.clone()
	}
	return out
}

// ResolveByID looks up an agent by identifier.
func (r *Registry) ResolveByID(id string) (Config, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Config{}, false
	}
	return r.items[idx].clone(), true
}

// ResolveBySlash matches a slash token exactly. Hierarchy fallback is the caller's job.
func (r *Registry) ResolveBySlash(token string) (Config, bool) {
	idx, ok := r.bySlash[slashKey(token)]
	if !ok {
		return Config{}, false
	}
	return r.items[idx].clone(), true
}

// Default returns the generic chat agent.
func (r *Registry) Default() Config {
	return r.items[r.byID[r.defaultID]].clone()
}

// Resolve returns the agent for id, or the default agent when id is unknown or empty.
func Resolve(store Store, id string) Config {
	if id != "" {
		if cfg, ok := store.ResolveByID(id); ok {
			return cfg
		}
	}
	return store.Default()
}

func slashKey(slash string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(slash), "/"))
}
