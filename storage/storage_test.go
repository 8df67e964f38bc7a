package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-notify/pkg/notifier"
)

// newTestMongo connects to MONGODB_TEST_URI and uses a throwaway database.
func newTestMongo(t *testing.T) *Mongo {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Connect(ctx, uri, "xnotify_test_"+uuid.NewString()[:8], logger)
	require.NoError(t, err)
	require.NoError(t, s.EnsureIndexes(ctx))

	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestMongoLifecyclePrimitives(t *testing.T) {
	s := newTestMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.db.Collection(TopicsCollection).InsertOne(ctx, notifier.Topic{ID: "t1", TemplateID: "tpl", ThankURL: "https://x/thanks"})
	require.NoError(t, err)

	topic, err := s.FindTopic(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "tpl", topic.TemplateID)

	_, err = s.FindTopic(ctx, "missing")
	assert.ErrorIs(t, err, notifier.ErrTopicNotFound)

	res, err := s.CreateMarker(ctx, "a@b.com", "t1")
	require.NoError(t, err)
	assert.Equal(t, notifier.Created, res)

	res, err = s.CreateMarker(ctx, "a@b.com", "t1")
	require.NoError(t, err)
	assert.Equal(t, notifier.AlreadyExists, res)

	require.NoError(t, s.InsertUnconfirmed(ctx, &notifier.Unconfirmed{
		Email: "a@b.com", TopicID: "t1", Subscode: "42", NotBefore: now, CreatedAt: now,
	}))

	_, err = s.AdvanceResend(ctx, "a@b.com", "t1", now, now.Add(time.Minute))
	assert.ErrorIs(t, err, notifier.ErrNotFound)

	rec, err := s.AdvanceResend(ctx, "a@b.com", "t1", now.Add(time.Second), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, rec.NotBefore.Equal(now.Add(time.Hour)))

	taken, err := s.TakeUnconfirmed(ctx, "a@b.com", "42")
	require.NoError(t, err)
	assert.Equal(t, "t1", taken.TopicID)

	_, err = s.TakeUnconfirmed(ctx, "a@b.com", "42")
	assert.ErrorIs(t, err, notifier.ErrNotFound)

	require.NoError(t, s.InsertConfirmed(ctx, &notifier.Confirmed{Email: "a@b.com", Subscode: "42", TopicID: "t1"}))
	conf, err := s.TakeConfirmed(ctx, "a@b.com", "42")
	require.NoError(t, err)
	assert.Equal(t, "t1", conf.TopicID)

	require.NoError(t, s.InsertTombstone(ctx, &notifier.Tombstone{Email: "a@b.com", TopicID: "t1", CreatedAt: now}))
	require.NoError(t, s.DeleteMarker(ctx, "a@b.com", "t1"))

	res, err = s.CreateMarker(ctx, "a@b.com", "t1")
	require.NoError(t, err)
	assert.Equal(t, notifier.Created, res)
}

func TestMongoAppendLogs(t *testing.T) {
	s := newTestMongo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.AppendSubsLog(ctx, notifier.AuditEntry{Kind: notifier.AuditConfirm, Email: "a@b.com", TopicID: "t1", CreatedAt: now}))
	require.NoError(t, s.AppendSubsLog(ctx, notifier.AuditEntry{Kind: notifier.AuditConfirm, Email: "a@b.com", TopicID: "t2", CreatedAt: now}))
	require.NoError(t, s.AppendNotifyLog(ctx, notifier.NotificationFailure{TemplateID: "tpl", Cause: "boom", CreatedAt: now}))

	var doc struct {
		Confirm []notifier.AuditEntry `bson:"confirmEmail"`
	}
	require.NoError(t, s.db.Collection(SubsLogsCollection).FindOne(ctx, map[string]string{"_id": "a@b.com"}).Decode(&doc))
	assert.Len(t, doc.Confirm, 2)

	var failures struct {
		ErrLogs []notifier.NotificationFailure `bson:"errLogs"`
	}
	require.NoError(t, s.db.Collection(NotifyLogsCollection).FindOne(ctx, map[string]string{"_id": "tpl"}).Decode(&failures))
	require.Len(t, failures.ErrLogs, 1)
	assert.Equal(t, "boom", failures.ErrLogs[0].Cause)
}
