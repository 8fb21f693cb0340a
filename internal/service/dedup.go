package service

import (
	"strings"
	"sync"
)

// DefaultSeenCacheSize bounds the in-process dedup set. The upstream source
// redelivers within seconds, so a bounded FIFO window is sufficient; the
// store existence check remains the durable second tier.
const DefaultSeenCacheSize = 50000

// SeenCache is the in-process tier of the dedup gate: a bounded set of
// ingestion keys that have already been accepted. Check-and-mark is atomic
// so near-simultaneous redeliveries cannot both pass the gate.
type SeenCache struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	order   []string
	maxSize int
}

// NewSeenCache creates a cache bounded to maxSize keys. A non-positive size
// falls back to DefaultSeenCacheSize.
func NewSeenCache(maxSize int) *SeenCache {
	if maxSize <= 0 {
		maxSize = DefaultSeenCacheSize
	}
	return &SeenCache{
		keys:    make(map[string]struct{}),
		maxSize: maxSize,
	}
}

// MarkIfNew marks the key as accepted and reports whether it was unseen.
// The mark is placed before any classification or embedding work starts.
func (c *SeenCache) MarkIfNew(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.keys[key]; ok {
		return false
	}
	c.insertLocked(key)
	return true
}

// Mark records a key unconditionally, backfilling from a store hit.
func (c *SeenCache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return
	}
	c.insertLocked(key)
}

// Forget drops a single key, allowing an edited event to be reprocessed.
func (c *SeenCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; !ok {
		return
	}
	delete(c.keys, key)
	c.dropOrderLocked(func(k string) bool { return k == key })
}

// PurgeByTimestamp removes every key whose event timestamp matches,
// regardless of channel. Returns the number of keys removed.
func (c *SeenCache) PurgeByTimestamp(timestampKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	suffix := ":" + timestampKey
	removed := 0
	for key := range c.keys {
		if strings.HasSuffix(key, suffix) {
			delete(c.keys, key)
			removed++
		}
	}
	if removed > 0 {
		c.dropOrderLocked(func(k string) bool { return strings.HasSuffix(k, suffix) })
	}
	return removed
}

// Len returns the number of cached keys.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Reset clears the cache.
func (c *SeenCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = make(map[string]struct{})
	c.order = c.order[:0]
}

// dropOrderLocked compacts the eviction queue in place. A removed key must
// not keep its old slot when it is later re-marked, and the queue must stay
// in step with the key set or it grows without bound.
func (c *SeenCache) dropOrderLocked(match func(string) bool) {
	kept := c.order[:0]
	for _, k := range c.order {
		if !match(k) {
			kept = append(kept, k)
		}
	}
	c.order = kept
}

func (c *SeenCache) insertLocked(key string) {
	for len(c.keys) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.keys, oldest)
	}
	c.keys[key] = struct{}{}
	c.order = append(c.order, key)
}
