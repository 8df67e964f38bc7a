package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"x-notify/pkg/notifier"
)

// Archive writes every audit record as its own JSON object, either to a
// Cloud Storage bucket or, when localDir is set, to the local filesystem.
type Archive struct {
	client   *storage.Client
	logger   *slog.Logger
	bucket   string
	localDir string
	now      func() time.Time
}

// NewBucketArchive archives to a Cloud Storage bucket.
func NewBucketArchive(client *storage.Client, bucket string, logger *slog.Logger) *Archive {
	return &Archive{client: client, bucket: bucket, logger: logger, now: time.Now}
}

// NewLocalArchive archives under dir.
func NewLocalArchive(dir string, logger *slog.Logger) *Archive {
	return &Archive{localDir: dir, logger: logger, now: time.Now}
}

// emailKey hides the address behind a stable hash.
func emailKey(email string) string {
	h := sha256.Sum256([]byte(email))
	return fmt.Sprintf("sub-%x", h[:8])
}

func (a *Archive) objectName(prefix, group string) string {
	return path.Join(prefix, group, fmt.Sprintf("%d-%s.json", a.now().UnixNano(), uuid.NewString()))
}

// AppendSubsLog archives a lifecycle entry.
func (a *Archive) AppendSubsLog(ctx context.Context, entry notifier.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return a.put(ctx, a.objectName("subs_logs", emailKey(entry.Email)), data)
}

// AppendNotifyLog archives a failed-send record.
func (a *Archive) AppendNotifyLog(ctx context.Context, failure notifier.NotificationFailure) error {
	data, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("marshal notify failure: %w", err)
	}
	return a.put(ctx, a.objectName("notify_logs", failure.TemplateID), data)
}

func (a *Archive) put(ctx context.Context, key string, data []byte) error {
	if a.localDir != "" {
		filePath := filepath.Join(a.localDir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("create archive directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o644); err != nil {
			return fmt.Errorf("write to local archive: %w", err)
		}
		a.logger.Debug("Audit record archived locally", "path", filePath)
		return nil
	}

	err := retry.Do(
		func() error {
			w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, err := w.Write(data); err != nil {
				w.Close()
				return fmt.Errorf("write to storage: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("close storage writer: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Info("Retrying audit archive write after error", "attempt", n, "key", key, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	a.logger.Debug("Audit record archived", "bucket", a.bucket, "key", key)
	return nil
}
