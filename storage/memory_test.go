package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-notify/pkg/notifier"
)

func TestMemoryCreateMarker(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	res, err := m.CreateMarker(ctx, "a@b.com", "t1")
	require.NoError(t, err)
	assert.Equal(t, notifier.Created, res)

	res, err = m.CreateMarker(ctx, "a@b.com", "t1")
	require.NoError(t, err)
	assert.Equal(t, notifier.AlreadyExists, res)

	res, err = m.CreateMarker(ctx, "a@b.com", "t2")
	require.NoError(t, err)
	assert.Equal(t, notifier.Created, res)

	require.NoError(t, m.DeleteMarker(ctx, "a@b.com", "t1"))
	assert.False(t, m.HasMarker("a@b.com", "t1"))
	assert.True(t, m.HasMarker("a@b.com", "t2"))
}

func TestMemoryAdvanceResend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.InsertUnconfirmed(ctx, &notifier.Unconfirmed{
		Email: "a@b.com", TopicID: "t1", Subscode: "123", NotBefore: base,
	}))

	_, err := m.AdvanceResend(ctx, "a@b.com", "t1", base, base.Add(time.Minute))
	assert.ErrorIs(t, err, notifier.ErrNotFound, "notBefore equal to now is not elapsed")

	rec, err := m.AdvanceResend(ctx, "a@b.com", "t1", base.Add(time.Second), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), rec.NotBefore)
	assert.Equal(t, base.Add(time.Hour), m.Unconfirmed("a@b.com", "t1")[0].NotBefore)

	_, err = m.AdvanceResend(ctx, "a@b.com", "t2", base.Add(2*time.Hour), base.Add(3*time.Hour))
	assert.ErrorIs(t, err, notifier.ErrNotFound)
}

func TestMemoryTakeRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.InsertUnconfirmed(ctx, &notifier.Unconfirmed{Email: "a@b.com", TopicID: "t1", Subscode: "123"}))

	_, err := m.TakeUnconfirmed(ctx, "a@b.com", "999")
	assert.ErrorIs(t, err, notifier.ErrNotFound)

	rec, err := m.TakeUnconfirmed(ctx, "a@b.com", "123")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TopicID)
	assert.Empty(t, m.Unconfirmed("a@b.com", "t1"))

	_, err = m.TakeUnconfirmed(ctx, "a@b.com", "123")
	assert.ErrorIs(t, err, notifier.ErrNotFound)

	require.NoError(t, m.InsertConfirmed(ctx, &notifier.Confirmed{Email: "a@b.com", TopicID: "t1", Subscode: "123"}))
	conf, err := m.TakeConfirmed(ctx, "a@b.com", "123")
	require.NoError(t, err)
	assert.Equal(t, "t1", conf.TopicID)
	assert.Empty(t, m.Confirmed("a@b.com", "t1"))
}

func TestMemoryLoadTopics(t *testing.T) {
	m := NewMemory()

	n, err := m.LoadTopics(strings.NewReader(`[{"id":"t1","templateId":"tpl","thankURL":"https://x/thanks"}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	topic, err := m.FindTopic(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tpl", topic.TemplateID)
	assert.Equal(t, "https://x/thanks", topic.ThankURL)

	_, err = m.FindTopic(context.Background(), "nope")
	assert.ErrorIs(t, err, notifier.ErrTopicNotFound)

	_, err = m.LoadTopics(strings.NewReader(`[{"templateId":"tpl"}]`))
	assert.Error(t, err)
}

func TestMemoryLogs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AppendSubsLog(ctx, notifier.AuditEntry{Kind: notifier.AuditConfirm, Email: "a@b.com", TopicID: "t1"}))
	require.NoError(t, m.AppendNotifyLog(ctx, notifier.NotificationFailure{TemplateID: "tpl", Cause: "boom"}))
	require.NoError(t, m.InsertTombstone(ctx, &notifier.Tombstone{Email: "a@b.com", TopicID: "t1"}))

	assert.Len(t, m.SubsLog("a@b.com"), 1)
	assert.Equal(t, "boom", m.NotifyLog("tpl")[0].Cause)
	assert.Len(t, m.Tombstones(), 1)
}
