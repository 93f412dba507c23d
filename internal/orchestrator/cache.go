package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/target-signal/internal/model"
)

// Cache drivers.
const (
	CacheDriverMemory = "memory"
	CacheDriverStore  = "store"
	CacheDriverBadger = "badger"
)

// Cache stores successful tool results. Get returns nil, nil on a miss.
// Writes are last-writer-wins.
type Cache interface {
	Get(ctx context.Context, key string) (*model.CacheEntry, error)
	Put(ctx context.Context, entry model.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Prune(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// CacheStore is the slice of the persistence layer backing StoreCache.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteExpiredCache(ctx context.Context, now time.Time) (int, error)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]model.CacheEntry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]model.CacheEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*model.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, entry model.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key] = entry
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Prune implements Cache.
func (c *MemoryCache) Prune(_ context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close implements Cache.
func (c *MemoryCache) Close() error { return nil }

// StoreCache persists entries in the tool_cache table.
type StoreCache struct {
	st CacheStore
}

// NewStoreCache wraps a persistence store as a Cache.
func NewStoreCache(st CacheStore) *StoreCache {
	return &StoreCache{st: st}
}

// Get implements Cache.
func (c *StoreCache) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	e, err := c.st.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}
	return e, nil
}

// Put implements Cache.
func (c *StoreCache) Put(ctx context.Context, entry model.CacheEntry) error {
	return eris.Wrap(c.st.PutCacheEntry(ctx, &entry), "cache: put")
}

// Delete implements Cache.
func (c *StoreCache) Delete(ctx context.Context, key string) error {
	return eris.Wrap(c.st.DeleteCacheEntry(ctx, key), "cache: delete")
}

// Prune implements Cache.
func (c *StoreCache) Prune(ctx context.Context, now time.Time) (int, error) {
	n, err := c.st.DeleteExpiredCache(ctx, now)
	if err != nil {
		return 0, eris.Wrap(err, "cache: prune")
	}
	return n, nil
}

// Close implements Cache. The store's lifecycle belongs to its owner.
func (c *StoreCache) Close() error { return nil }
