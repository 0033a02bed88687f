package services

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type cachedValue struct {
	value    any
	storedAt time.Time
}

// refCache is a small LRU for reference data (catalog, achievement
// definitions) with a freshness window.
type refCache struct {
	lru *lru.Cache
	ttl time.Duration
}

func newRefCache(size int, ttl time.Duration) *refCache {
	c, err := lru.New(size)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &refCache{lru: c, ttl: ttl}
}

func (c *refCache) get(key string) (any, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(cachedValue)
	if time.Since(entry.storedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *refCache) put(key string, value any) {
	c.lru.Add(key, cachedValue{value: value, storedAt: time.Now()})
}

func (c *refCache) purge() {
	c.lru.Purge()
}
