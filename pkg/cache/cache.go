// Package cache provides a small TTL cache used for base-map tiles.
package cache

import (
	"sort"
	"sync"
	"time"
)

type item[V any] struct {
	value      V
	expiration int64
}

func (it item[V]) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// TTLCache is a thread-safe cache with time-based expiration and a size cap
type TTLCache[K comparable, V any] struct {
	items           map[K]item[V]
	mu              sync.RWMutex
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxItems        int
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewTTLCache creates a new cache with the specified TTL and cleanup interval.
// maxItems caps the number of entries; the entries closest to expiry are evicted first.
func NewTTLCache[K comparable, V any](defaultTTL, cleanupInterval time.Duration, maxItems int) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		items:           make(map[K]item[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		maxItems:        maxItems,
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c
}

// Set adds an item to the cache with the default TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds an item to the cache with a specific TTL
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[V]{value: value, expiration: expiration}

	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldest()
	}
}

// Get retrieves an item from the cache
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !found {
		return zero, false
	}

	if it.expired(time.Now().UnixNano()) {
		c.mu.Lock()
		if latest, ok := c.items[key]; ok && latest.expired(time.Now().UnixNano()) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}

	return it.value, true
}

// Delete removes an item from the cache
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of items in the cache
func (c *TTLCache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items from the cache
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]item[V])
	c.mu.Unlock()
}

// evictOldest removes the entries closest to expiry. Caller holds the lock.
func (c *TTLCache[K, V]) evictOldest() {
	excess := len(c.items) - c.maxItems
	if excess <= 0 {
		return
	}

	type keyExpiration struct {
		key        K
		expiration int64
	}

	keys := make([]keyExpiration, 0, len(c.items))
	for k, v := range c.items {
		exp := v.expiration
		if exp == 0 {
			// never expires: lowest eviction priority
			exp = 1<<63 - 1
		}
		keys = append(keys, keyExpiration{k, exp})
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].expiration < keys[j].expiration
	})

	for i := 0; i < excess; i++ {
		delete(c.items, keys[i].key)
	}
}

func (c *TTLCache[K, V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *TTLCache[K, V]) deleteExpired() {
	now := time.Now().UnixNano()

	c.mu.Lock()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (c *TTLCache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}
