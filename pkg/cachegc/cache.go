// Package cachegc provides a size-bounded in-memory cache whose entries expire after a TTL.
package cachegc

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// Cache is a local in-memory caching layer.
// It is safe for concurrent use.
type Cache struct {
	TTL   time.Duration
	Clock func() time.Time

	mu  sync.Mutex
	lru simplelru.LRUCache
}

type cacheEntry struct {
	data        interface{}
	lastUpdated time.Time
}

// New creates a new caching layer that keeps at most size entries.
func New(size int, ttl time.Duration) (*Cache, error) {
	lru, err := simplelru.NewLRU(size, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{
		TTL:   ttl,
		Clock: time.Now,
		lru:   lru,
	}, nil
}

// Get returns an item in the cache, ignoring expired items.
func (c *Cache) Get(key interface{}) (value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entryI, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	entry := entryI.(*cacheEntry)
	now := c.Clock()
	if now.Sub(entry.lastUpdated) > c.TTL {
		c.lru.Remove(key)
		c.gc(now)
		return nil, false
	}
	return entry.data, true
}

// Add inserts or refreshes an item.
func (c *Cache) Add(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, &cacheEntry{data: value, lastUpdated: c.Clock()})
}

// Remove drops an item if present.
func (c *Cache) Remove(key interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of entries, including expired ones not collected yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// gc drops expired entries from the old end of the LRU list.
func (c *Cache) gc(now time.Time) {
	for {
		key, entryI, ok := c.lru.GetOldest()
		if !ok {
			return
		}
		entry := entryI.(*cacheEntry)
		if now.Sub(entry.lastUpdated) <= c.TTL {
			return
		}
		c.lru.Remove(key)
	}
}
