package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryConfig configures the in-process store.
type MemoryConfig struct {
	// CleanupInterval is how often expired entries are swept (default: 1 minute)
	CleanupInterval time.Duration
}

// Memory is an in-process Store. Values are copied on the way in and out so
// callers never share backing arrays with the store.
type Memory struct {
	items *gocache.Cache
	stats *Stats
}

// NewMemory creates an in-process store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	return &Memory{
		items: gocache.New(gocache.NoExpiration, cfg.CleanupInterval),
		stats: &Stats{},
	}
}

// Get retrieves a value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		atomic.AddUint64(&m.stats.Misses, 1)
		return nil, false, nil
	}

	data, ok := v.([]byte)
	if !ok {
		atomic.AddUint64(&m.stats.Misses, 1)
		return nil, false, nil
	}

	atomic.AddUint64(&m.stats.Hits, 1)
	return cloneBytes(data), true, nil
}

// Set stores a value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	expiration := gocache.NoExpiration
	if ttl > 0 {
		expiration = ttl
	}
	m.items.Set(key, cloneBytes(value), expiration)
	atomic.AddUint64(&m.stats.Sets, 1)
	return nil
}

// Delete removes a value.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	_, ok := m.items.Get(key)
	m.items.Delete(key)
	return ok, nil
}

// Purge removes every entry whose key starts with prefix.
func (m *Memory) Purge(_ context.Context, prefix string) (int64, error) {
	var count int64
	for key := range m.items.Items() {
		if strings.HasPrefix(key, prefix) {
			m.items.Delete(key)
			count++
		}
	}
	return count, nil
}

// GetStats returns current store statistics.
func (m *Memory) GetStats() Stats {
	return Stats{
		Hits:   atomic.LoadUint64(&m.stats.Hits),
		Misses: atomic.LoadUint64(&m.stats.Misses),
		Sets:   atomic.LoadUint64(&m.stats.Sets),
		Errors: atomic.LoadUint64(&m.stats.Errors),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
