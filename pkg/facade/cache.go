package facade

import (
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/storage"
)

// InvalidateCache drops the cached entry of key, if any.
func (f *Facade) InvalidateCache(key storage.FileKey) error {
	s, err := f.open("invalidate_cache", key)
	if err != nil {
		return err
	}
	s.Cache.Invalidate(key.Name)
	return nil
}

// ClearCache drops every cached entry of storageName.
func (f *Facade) ClearCache(storageName string) error {
	s, err := f.reg.Get(storageName)
	if err != nil {
		return err
	}
	s.Cache.Clear()
	return nil
}

// CacheStats returns the cache counters of storageName.
func (f *Facade) CacheStats(storageName string) (cache.Stats, error) {
	s, err := f.reg.Get(storageName)
	if err != nil {
		return cache.Stats{}, err
	}
	return s.Cache.Stats(), nil
}
