package objstore

import (
	"context"

	"github.com/ppiankov/provenant/internal/cache"
)

// CachedStore serves repeated reads of immutable artifacts from memory.
// Paths rejected by the cacheable predicate (status.json, growing evidence)
// always go to the inner store.
type CachedStore struct {
	inner     Store
	cache     cache.Cache
	cacheable func(path string) bool
}

// NewCachedStore wraps inner with a read-through cache
func NewCachedStore(inner Store, c cache.Cache, cacheable func(path string) bool) *CachedStore {
	if cacheable == nil {
		cacheable = func(string) bool { return false }
	}
	return &CachedStore{inner: inner, cache: c, cacheable: cacheable}
}

// Get checks the cache first for cacheable paths
func (s *CachedStore) Get(ctx context.Context, path string) ([]byte, error) {
	if !s.cacheable(path) {
		return s.inner.Get(ctx, path)
	}
	if data, ok := s.cache.Get(path); ok {
		return data, nil
	}
	data, err := s.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	s.cache.Set(path, data)
	return data, nil
}

// Put writes through. The cached copy is dropped first so a failed write
// never leaves stale bytes behind.
func (s *CachedStore) Put(ctx context.Context, path string, data []byte) error {
	if !s.cacheable(path) {
		return s.inner.Put(ctx, path, data)
	}
	s.cache.Forget(path)
	if err := s.inner.Put(ctx, path, data); err != nil {
		return err
	}
	s.cache.Set(path, data)
	return nil
}

// List is never cached
func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
