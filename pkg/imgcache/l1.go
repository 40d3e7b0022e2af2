// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// l1Cache is the in-process tier: an LRU bounded by entry count and byte
// budget, with per-entry TTL. All operations run under one mutex so reads
// and writes appear atomic; LRU bookkeeping happens under the same lock.
type l1Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, l1Entry]
	bytes    int64
	maxBytes int64
	ttl      time.Duration

	// now is swapped out by tests to drive TTL expiry.
	now func() time.Time
}

type l1Entry struct {
	entry     Entry
	expiresAt time.Time
}

func newL1Cache(maxEntries int, maxBytes int64, ttl time.Duration) *l1Cache {
	c := &l1Cache{
		maxBytes: maxBytes,
		ttl:      ttl,
		now:      time.Now,
	}
	// The evict callback keeps the byte budget accurate for every removal
	// path: capacity eviction, explicit remove, and byte-budget eviction.
	lru, err := simplelru.NewLRU(maxEntries, func(_ string, v l1Entry) {
		c.bytes -= v.entry.size()
	})
	if err != nil {
		panic(err) // only fails on size <= 0, guarded by the caller
	}
	c.lru = lru
	return c
}

func (c *l1Cache) get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	if c.now().After(v.expiresAt) {
		c.lru.Remove(key)
		return Entry{}, false
	}
	return v.entry, true
}

func (c *l1Cache) put(key string, e Entry) {
	size := e.size()
	if size > c.maxBytes {
		return // larger than the whole budget; caching it would purge everything
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)

	// Evict least-recently-used entries until the new entry fits.
	for c.lru.Len() > 0 && c.bytes+size > c.maxBytes {
		c.lru.RemoveOldest()
	}

	c.lru.Add(key, l1Entry{entry: e, expiresAt: c.now().Add(c.ttl)})
	c.bytes += size
}

func (c *l1Cache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *l1Cache) removeFunc(match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if match(key) {
			c.lru.Remove(key)
		}
	}
}

func (c *l1Cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
