package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps stores in process memory.
// Entries never expire on their own; stores are only removed by Delete.
type MemoryStorage struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-process storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memoryStore),
	}
}

// Open returns the named store, creating it on first use.
func (s *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	store, ok := s.stores[name]
	if !ok {
		store = &memoryStore{
			storage: s,
			name:    name,
			entries: gocache.New(gocache.NoExpiration, 0),
		}
		s.stores[name] = store
	}
	return store, nil
}

// Has reports whether the store exists.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[name]
	return ok, nil
}

// Keys returns the store names, sorted.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete drops a store. A later Put through a handle obtained earlier
// registers the store again.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	store, ok := s.stores[name]
	delete(s.stores, name)
	s.mu.Unlock()

	if ok {
		store.entries.Flush()
		StoresDeleted.Inc()
	}
	return ok, nil
}

// Ping always succeeds.
func (s *MemoryStorage) Ping(context.Context) error {
	return nil
}

type memoryStore struct {
	storage *MemoryStorage
	name    string
	entries *gocache.Cache
}

// live returns the registered store for m's name, registering m when the
// name was deleted.
func (m *memoryStore) live() *memoryStore {
	m.storage.mu.Lock()
	defer m.storage.mu.Unlock()

	current, ok := m.storage.stores[m.name]
	if !ok {
		m.storage.stores[m.name] = m
		return m
	}
	return current
}

func (m *memoryStore) Name() string { return m.name }

func (m *memoryStore) Match(_ context.Context, key string) (*Entry, error) {
	v, ok := m.entries.Get(key)
	if !ok {
		CacheMisses.WithLabelValues(m.name).Inc()
		return nil, ErrCacheMiss
	}
	entry, ok := v.(*Entry)
	if !ok {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: unexpected type %T", ErrInvalidEntry, v)
	}
	CacheHits.WithLabelValues(m.name).Inc()
	return entry.Clone(), nil
}

func (m *memoryStore) Put(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	m.live().entries.Set(key, entry.Clone(), gocache.NoExpiration)
	CacheWrites.WithLabelValues(m.name).Inc()
	CacheWriteBytes.WithLabelValues(m.name).Add(float64(len(entry.Body)))
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *memoryStore) Keys(_ context.Context) ([]string, error) {
	items := m.entries.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
