package topics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-notify/pkg/notifier"
)

type countingSource struct {
	mu     sync.Mutex
	topics map[string]*notifier.Topic
	calls  map[string]int
	err    error
}

func newCountingSource(ids ...string) *countingSource {
	s := &countingSource{topics: make(map[string]*notifier.Topic), calls: make(map[string]int)}
	for _, id := range ids {
		s.topics[id] = &notifier.Topic{ID: id, TemplateID: "tpl-" + id}
	}
	return s
}

func (s *countingSource) FindTopic(_ context.Context, id string) (*notifier.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.topics[id]
	if !ok {
		return nil, notifier.ErrTopicNotFound
	}
	return t, nil
}

func (s *countingSource) callsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirectoryCachesHits(t *testing.T) {
	src := newCountingSource("t1")
	d := NewDirectory(src, 10, nil, discardLogger())

	for range 3 {
		topic, err := d.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "tpl-t1", topic.TemplateID)
	}

	assert.Equal(t, 1, src.callsFor("t1"))
}

func TestDirectoryNotFoundIsNotCached(t *testing.T) {
	src := newCountingSource()
	d := NewDirectory(src, 10, nil, discardLogger())

	_, err := d.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, notifier.ErrTopicNotFound)
	_, err = d.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, notifier.ErrTopicNotFound)

	assert.Equal(t, 2, src.callsFor("missing"))
	assert.Zero(t, d.Len())
}

func TestDirectoryStoreErrorMapsToNotFound(t *testing.T) {
	src := newCountingSource("t1")
	src.err = errors.New("connection refused")
	d := NewDirectory(src, 10, nil, discardLogger())

	_, err := d.Get(context.Background(), "t1")
	assert.ErrorIs(t, err, notifier.ErrTopicNotFound)
}

func TestDirectoryEmptyID(t *testing.T) {
	src := newCountingSource()
	d := NewDirectory(src, 10, nil, discardLogger())

	_, err := d.Get(context.Background(), "")
	assert.ErrorIs(t, err, notifier.ErrTopicNotFound)
	assert.Zero(t, src.callsFor(""))
}

func TestDirectoryEvictsOldestInserted(t *testing.T) {
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i)
	}
	src := newCountingSource(ids...)
	d := NewDirectory(src, 3, nil, discardLogger())
	ctx := context.Background()

	for _, id := range ids[:3] {
		_, err := d.Get(ctx, id)
		require.NoError(t, err)
	}
	// A read does not refresh t0's position.
	_, err := d.Get(ctx, "t0")
	require.NoError(t, err)

	_, err = d.Get(ctx, "t3")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	_, err = d.Get(ctx, "t0")
	require.NoError(t, err)
	assert.Equal(t, 2, src.callsFor("t0"), "t0 was evicted and fetched again")

	for _, id := range ids {
		_, err := d.Get(ctx, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, d.Len(), 3)
	}
}

func TestDirectoryFlush(t *testing.T) {
	src := newCountingSource("t1")
	d := NewDirectory(src, 10, nil, discardLogger())
	ctx := context.Background()

	_, err := d.Get(ctx, "t1")
	require.NoError(t, err)
	d.Flush()
	assert.Zero(t, d.Len())

	_, err = d.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.callsFor("t1"))
}
