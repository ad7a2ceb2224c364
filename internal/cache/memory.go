package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is one tier of the embedding cache.
type Store interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, vec []float64) error
}

// MemoryStore keeps vectors in process with a TTL.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a memory store. A zero ttl keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryStore{cache: gocache.New(ttl, 10*time.Minute)}
}

// Get retrieves a vector.
func (m *MemoryStore) Get(_ context.Context, key string) ([]float64, bool) {
	if v, found := m.cache.Get(key); found {
		return v.([]float64), true
	}
	return nil, false
}

// Set stores a vector with the default TTL.
func (m *MemoryStore) Set(_ context.Context, key string, vec []float64) error {
	m.cache.SetDefault(key, vec)
	return nil
}

// Len returns the number of cached vectors, including expired ones not yet
// cleaned up.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}
