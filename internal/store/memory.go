package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/i474232898/querycache/internal/query"
)

var (
	// ErrNotFound is returned when nothing has been cached for a key yet.
	ErrNotFound = errors.New("no cached entry for key")
)

// MemoryStore is a concurrency-safe in-memory cache holding at most one
// entry per key.
type MemoryStore struct {
	mu sync.RWMutex

	// key: query cache key, value: latest entry
	data map[string]query.CachedEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]query.CachedEntry),
	}
}

// Set replaces the entry for key. The entry is copied so later changes by
// the caller are not visible to readers.
func (s *MemoryStore) Set(key string, entry query.CachedEntry) {
	entry = entry.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = entry
}

// Get returns a copy of the entry for key, or ErrNotFound.
func (s *MemoryStore) Get(key string) (query.CachedEntry, error) {
	s.mu.RLock()
	entry, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return query.CachedEntry{}, ErrNotFound
	}
	return entry.Clone(), nil
}

// Keys returns the cached keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
