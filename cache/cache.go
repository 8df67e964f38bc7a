// Package cache provides a bounded key/value cache with insertion-order eviction.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// slot lets a value be replaced in place without touching queue position.
type slot[V any] struct {
	value V
}

// Bounded holds at most capacity entries. When full, the oldest inserted key
// is evicted, regardless of how recently it was read. Reads go through Peek so
// the underlying LRU order is insertion order.
type Bounded[K comparable, V any] struct {
	mu       sync.Mutex
	lru      *lru.Cache[K, *slot[V]]
	evicted  []K // Collected by the eviction callback while mu is held
	capacity int
}

// New creates a cache holding at most capacity entries. A capacity below one is treated as one.
func New[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Bounded[K, V]{capacity: capacity}
	// NewWithEvict only fails for a non-positive size.
	c.lru, _ = lru.NewWithEvict(capacity, func(key K, _ *slot[V]) {
		c.evicted = append(c.evicted, key)
	})
	return c
}

// Get returns the value stored for key.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lru.Peek(key)
	if !ok {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Put stores value under key and returns the keys evicted to stay within capacity.
// Replacing an existing key keeps its original queue position.
func (c *Bounded[K, V]) Put(key K, value V) []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.lru.Peek(key); ok {
		s.value = value
		return nil
	}
	c.evicted = nil
	c.lru.Add(key, &slot[V]{value: value})
	return c.takeEvicted()
}

// EvictIfOverCapacity drops the oldest inserted entries until the cache fits its capacity.
func (c *Bounded[K, V]) EvictIfOverCapacity() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = nil
	c.lru.Resize(c.capacity)
	return c.takeEvicted()
}

func (c *Bounded[K, V]) takeEvicted() []K {
	evicted := c.evicted
	c.evicted = nil
	return evicted
}

// Flush removes every entry.
func (c *Bounded[K, V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.evicted = nil
}

// Len returns the number of cached entries.
func (c *Bounded[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached keys, oldest first.
func (c *Bounded[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Capacity returns the maximum number of entries.
func (c *Bounded[K, V]) Capacity() int {
	return c.capacity
}
