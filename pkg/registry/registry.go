// Package registry holds the named storages of a running engine.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/marmos91/dittostore/pkg/storage"
)

// Registry manages all named storages.
// It provides thread-safe registration and lookup.
//
// Storages are registered once at startup; configuration is never reloaded.
//
// Example usage:
//
//	reg := NewRegistry()
//	docs, _ := NewStorage(ctx, StorageConfig{Name: "docs", Versioning: true}, backend)
//	reg.Register(docs)
//
//	s, _ := reg.Get("docs")
type Registry struct {
	mu       sync.RWMutex
	storages map[string]*Storage
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		storages: make(map[string]*Storage),
	}
}

// Register adds a named storage to the registry.
// Returns an error if a storage with the same name already exists.
func (r *Registry) Register(s *Storage) error {
	if s == nil {
		return fmt.Errorf("cannot register nil storage")
	}
	if s.Name == "" {
		return fmt.Errorf("cannot register storage with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.storages[s.Name]; exists {
		return fmt.Errorf("storage %q already registered", s.Name)
	}

	r.storages[s.Name] = s
	return nil
}

// Get retrieves a storage by name.
// Returns a NotFound error if the storage doesn't exist.
func (r *Registry) Get(name string) (*Storage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.storages[name]
	if !exists {
		return nil, storage.Errorf(storage.ErrNotFound, "get_storage", name, "storage %q not found", name)
	}
	return s, nil
}

// Exists checks if a storage with the given name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.storages[name]
	return exists
}

// List returns all registered storage names, sorted.
// The returned slice is a copy and safe to modify.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Storages returns every registered storage ordered by name.
func (r *Registry) Storages() []*Storage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Storage, 0, len(r.storages))
	for _, s := range r.storages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered storages.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.storages)
}

// Close closes every backend and returns the combined errors.
func (r *Registry) Close() error {
	var err error
	for _, s := range r.Storages() {
		err = multierr.Append(err, s.Close())
	}
	return err
}
