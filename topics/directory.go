// Package topics resolves topic configuration through a bounded cache.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"x-notify/cache"
	"x-notify/metrics"
	"x-notify/pkg/notifier"
)

const cacheName = "topics"

// Source loads topics from the document store.
type Source interface {
	FindTopic(ctx context.Context, id string) (*notifier.Topic, error)
}

// Directory caches topics by id. Concurrent misses for the same id may each
// fetch; the last one to finish wins.
type Directory struct {
	source  Source
	cache   *cache.Bounded[string, *notifier.Topic]
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewDirectory creates a directory holding at most capacity topics.
func NewDirectory(source Source, capacity int, rec metrics.Recorder, logger *slog.Logger) *Directory {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Directory{
		source:  source,
		cache:   cache.New[string, *notifier.Topic](capacity),
		metrics: rec,
		logger:  logger,
	}
}

// Get returns the topic for id. Any fetch failure is reported as
// notifier.ErrTopicNotFound and is not cached.
func (d *Directory) Get(ctx context.Context, id string) (*notifier.Topic, error) {
	if id == "" {
		return nil, notifier.ErrTopicNotFound
	}

	if topic, ok := d.cache.Get(id); ok {
		d.metrics.RecordCacheLookup(cacheName, true)
		return topic, nil
	}
	d.metrics.RecordCacheLookup(cacheName, false)

	topic, err := d.source.FindTopic(ctx, id)
	if err != nil || topic == nil {
		if err != nil && !errors.Is(err, notifier.ErrTopicNotFound) {
			d.logger.Warn("Topic lookup failed", "topic_id", id, "error", err)
		}
		return nil, fmt.Errorf("topic %q: %w", id, notifier.ErrTopicNotFound)
	}

	evicted := d.cache.Put(id, topic)
	d.metrics.RecordCacheEviction(cacheName, len(evicted))
	return topic, nil
}

// Flush empties the cache.
func (d *Directory) Flush() {
	d.cache.Flush()
	d.logger.Info("Topic cache flushed")
}

// Len returns the number of cached topics.
func (d *Directory) Len() int {
	return d.cache.Len()
}
