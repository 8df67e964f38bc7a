package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"x-notify/pkg/notifier"
)

// Memory is an in-process store for local development and tests. It offers the
// same single-record atomicity as Mongo by holding one lock per call.
type Memory struct {
	topics      map[string]notifier.Topic
	markers     map[notifier.Marker]struct{}
	unconfirmed []notifier.Unconfirmed
	confirmed   []notifier.Confirmed
	tombstones  []notifier.Tombstone
	subsLogs    map[string][]notifier.AuditEntry
	notifyLogs  map[string][]notifier.NotificationFailure
	mu          sync.Mutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		topics:     make(map[string]notifier.Topic),
		markers:    make(map[notifier.Marker]struct{}),
		subsLogs:   make(map[string][]notifier.AuditEntry),
		notifyLogs: make(map[string][]notifier.NotificationFailure),
	}
}

// PutTopic registers a topic. Topics are administered outside the service; this
// exists to seed local mode and tests.
func (m *Memory) PutTopic(topic notifier.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[topic.ID] = topic
}

// LoadTopics reads a JSON array of topics and registers each one.
func (m *Memory) LoadTopics(r io.Reader) (int, error) {
	var topics []notifier.Topic
	if err := json.NewDecoder(r).Decode(&topics); err != nil {
		return 0, fmt.Errorf("decode topics: %w", err)
	}
	for _, t := range topics {
		if t.ID == "" {
			return 0, fmt.Errorf("topic without id: %+v", t)
		}
		m.PutTopic(t)
	}
	return len(topics), nil
}

// FindTopic loads a topic by id.
func (m *Memory) FindTopic(_ context.Context, id string) (*notifier.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[id]
	if !ok {
		return nil, notifier.ErrTopicNotFound
	}
	return &t, nil
}

// CreateMarker inserts the (email, topic) existence marker unless it already exists.
func (m *Memory) CreateMarker(_ context.Context, email, topicID string) (notifier.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := notifier.Marker{Email: email, TopicID: topicID}
	if _, exists := m.markers[key]; exists {
		return notifier.AlreadyExists, nil
	}
	m.markers[key] = struct{}{}
	return notifier.Created, nil
}

// DeleteMarker removes the (email, topic) existence marker.
func (m *Memory) DeleteMarker(_ context.Context, email, topicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, notifier.Marker{Email: email, TopicID: topicID})
	return nil
}

// InsertUnconfirmed stores a pending subscription.
func (m *Memory) InsertUnconfirmed(_ context.Context, rec *notifier.Unconfirmed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unconfirmed = append(m.unconfirmed, *rec)
	return nil
}

// AdvanceResend moves notBefore to next on the pending record for (email, topic)
// whose notBefore is earlier than now.
func (m *Memory) AdvanceResend(_ context.Context, email, topicID string, now, next time.Time) (*notifier.Unconfirmed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.unconfirmed {
		rec := &m.unconfirmed[i]
		if rec.Email == email && rec.TopicID == topicID && rec.NotBefore.Before(now) {
			rec.NotBefore = next
			out := *rec
			return &out, nil
		}
	}
	return nil, notifier.ErrNotFound
}

// TakeUnconfirmed removes and returns the pending record for (email, code).
func (m *Memory) TakeUnconfirmed(_ context.Context, email, code string) (*notifier.Unconfirmed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.unconfirmed {
		if rec.Email == email && rec.Subscode == code {
			m.unconfirmed = append(m.unconfirmed[:i], m.unconfirmed[i+1:]...)
			return &rec, nil
		}
	}
	return nil, notifier.ErrNotFound
}

// InsertConfirmed stores an active subscription.
func (m *Memory) InsertConfirmed(_ context.Context, rec *notifier.Confirmed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = append(m.confirmed, *rec)
	return nil
}

// TakeConfirmed removes and returns the active subscription for (email, code).
func (m *Memory) TakeConfirmed(_ context.Context, email, code string) (*notifier.Confirmed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.confirmed {
		if rec.Email == email && rec.Subscode == code {
			m.confirmed = append(m.confirmed[:i], m.confirmed[i+1:]...)
			return &rec, nil
		}
	}
	return nil, notifier.ErrNotFound
}

// InsertTombstone appends an unsubscribe tombstone.
func (m *Memory) InsertTombstone(_ context.Context, rec *notifier.Tombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tombstones = append(m.tombstones, *rec)
	return nil
}

// AppendSubsLog appends a lifecycle entry to the email's log.
func (m *Memory) AppendSubsLog(_ context.Context, entry notifier.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subsLogs[entry.Email] = append(m.subsLogs[entry.Email], entry)
	return nil
}

// AppendNotifyLog appends a send failure to the template's log.
func (m *Memory) AppendNotifyLog(_ context.Context, failure notifier.NotificationFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyLogs[failure.TemplateID] = append(m.notifyLogs[failure.TemplateID], failure)
	return nil
}

// HasMarker reports whether the (email, topic) marker exists.
func (m *Memory) HasMarker(email, topicID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[notifier.Marker{Email: email, TopicID: topicID}]
	return ok
}

// MarkerCount returns the number of existence markers.
func (m *Memory) MarkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

// Unconfirmed returns the pending records for (email, topic).
func (m *Memory) Unconfirmed(email, topicID string) []notifier.Unconfirmed {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifier.Unconfirmed
	for _, rec := range m.unconfirmed {
		if rec.Email == email && rec.TopicID == topicID {
			out = append(out, rec)
		}
	}
	return out
}

// Confirmed returns the active subscriptions for (email, topic).
func (m *Memory) Confirmed(email, topicID string) []notifier.Confirmed {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifier.Confirmed
	for _, rec := range m.confirmed {
		if rec.Email == email && rec.TopicID == topicID {
			out = append(out, rec)
		}
	}
	return out
}

// Tombstones returns every tombstone.
func (m *Memory) Tombstones() []notifier.Tombstone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.Tombstone(nil), m.tombstones...)
}

// SubsLog returns the lifecycle log for an email.
func (m *Memory) SubsLog(email string) []notifier.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.AuditEntry(nil), m.subsLogs[email]...)
}

// NotifyLog returns the failure log for a template.
func (m *Memory) NotifyLog(templateID string) []notifier.NotificationFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifier.NotificationFailure(nil), m.notifyLogs[templateID]...)
}
