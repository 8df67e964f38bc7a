package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-notify/config"
	"x-notify/pkg/notifier"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreLocalSeedsTopics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"t1","templateId":"tpl","notifyKey":"k","confirmURL":"https://x/c","unsubURL":"https://x/u","thankURL":"https://x/t","failURL":"https://x/f"}]`), 0o600))

	cfg := &config.Config{TopicsFile: path}
	store, closeFn, err := openStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer closeFn()

	topic, err := store.FindTopic(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tpl", topic.TemplateID)
}

func TestOpenStoreMissingTopicsFile(t *testing.T) {
	cfg := &config.Config{TopicsFile: filepath.Join(t.TempDir(), "missing.json")}
	_, _, err := openStore(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestAuditWritersLocalArchive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	cfg := &config.Config{AuditDir: dir}
	store, closeStore, err := openStore(context.Background(), &config.Config{}, discardLogger())
	require.NoError(t, err)
	defer closeStore()

	writers, closeFn, err := auditWriters(context.Background(), cfg, store, discardLogger())
	require.NoError(t, err)
	defer closeFn()
	require.Len(t, writers, 2)

	entry := notifier.AuditEntry{Kind: notifier.AuditSubscribe, Email: "a@b.com", TopicID: "t1", CreatedAt: time.Now()}
	require.NoError(t, writers.AppendSubsLog(context.Background(), entry))

	matches, err := filepath.Glob(filepath.Join(dir, "subs_logs", "*", "*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
