package email

import (
	"fmt"

	"x-notify/cache"
	"x-notify/metrics"
)

const clientCacheName = "notify_clients"

// ClientCache pools clients by API key with insertion-order eviction.
type ClientCache struct {
	factory ClientFactory
	cache   *cache.Bounded[string, Client]
	metrics metrics.Recorder
}

// NewClientCache creates a pool holding at most capacity clients.
func NewClientCache(factory ClientFactory, capacity int, rec metrics.Recorder) *ClientCache {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &ClientCache{
		factory: factory,
		cache:   cache.New[string, Client](capacity),
		metrics: rec,
	}
}

// GetOrCreate returns the pooled client for apiKey, building one on a miss.
// Failed constructions are not cached.
func (c *ClientCache) GetOrCreate(apiKey string) (Client, error) {
	if client, ok := c.cache.Get(apiKey); ok {
		c.metrics.RecordCacheLookup(clientCacheName, true)
		return client, nil
	}
	c.metrics.RecordCacheLookup(clientCacheName, false)

	client, err := c.factory(apiKey)
	if err != nil {
		return nil, fmt.Errorf("create notify client: %w", err)
	}
	evicted := c.cache.Put(apiKey, client)
	c.metrics.RecordCacheEviction(clientCacheName, len(evicted))
	return client, nil
}

// Flush drops every pooled client.
func (c *ClientCache) Flush() {
	c.cache.Flush()
}

// Len returns the number of pooled clients.
func (c *ClientCache) Len() int {
	return c.cache.Len()
}
