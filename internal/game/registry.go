package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownVariant is returned when a variant ID is not in the registry.
var ErrUnknownVariant = errors.New("unknown variant")

// Registry manages variant registration and lookup.
// Descriptors are registered once at startup and never mutate afterwards.
type Registry struct {
	variants map[string]*Descriptor
	mu       sync.RWMutex
}

// NewRegistry creates a new variant registry.
func NewRegistry() *Registry {
	return &Registry{
		variants: make(map[string]*Descriptor),
	}
}

// Register adds a variant to the registry.
// If a variant with the same ID already exists, it will be replaced.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("cannot register variant: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[d.ID] = d
	return nil
}

// Get retrieves a variant by its ID.
// Returns the descriptor and true if found, nil and false otherwise.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.variants[id]
	return d, ok
}

// Lookup is like Get but returns ErrUnknownVariant for missing IDs.
func (r *Registry) Lookup(id string) (*Descriptor, error) {
	d, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, id)
	}
	return d, nil
}

// List returns all registered variants sorted by ID.
// The returned slice is a copy, so modifications won't affect the registry.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Descriptor, 0, len(r.variants))
	for _, d := range r.variants {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// IDs returns all registered variant IDs, sorted.
func (r *Registry) IDs() []string {
	list := r.List()
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	return ids
}

// Count returns the number of registered variants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.variants)
}

// Unregister removes a variant by its ID.
// Returns true if the variant was found and removed, false otherwise.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.variants[id]; ok {
		delete(r.variants, id)
		return true
	}
	return false
}
