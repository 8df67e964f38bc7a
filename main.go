// Package main runs the subscription lifecycle service: double opt-in email
// subscriptions to notification topics, backed by MongoDB and GC Notify.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/option"

	"x-notify/audit"
	"x-notify/config"
	"x-notify/email"
	"x-notify/lifecycle"
	"x-notify/metrics"
	"x-notify/server"
	"x-notify/storage"
	"x-notify/topics"
)

const shutdownTimeout = 15 * time.Second

// backend is the persistence surface shared by the Mongo and in-memory stores.
type backend interface {
	lifecycle.Store
	topics.Source
	audit.Writer
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	writers, closeArchive, err := auditWriters(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	sink := audit.NewSink(&audit.Config{
		Writer:         writers,
		Metrics:        collector,
		Logger:         logger,
		QueueSize:      cfg.AuditQueueSize,
		SubsLogEnabled: cfg.AuditSubsLog,
	})

	factory := email.NewNotifyFactory(cfg.NotifyEndpoint, logger)
	if cfg.MockNotify {
		logger.Info("Mock email mode enabled")
		factory = email.NewMockFactory(email.NewMockClient(logger))
	}
	clients := email.NewClientCache(factory, cfg.NotifyCacheLimit, collector)

	dispatcher := email.NewDispatcher(&email.DispatcherConfig{
		Clients:        clients,
		Failures:       sink,
		Metrics:        collector,
		Logger:         logger,
		ConfirmBaseURL: cfg.ConfirmBaseURL,
		Bypass:         cfg.BypassSubscode != "",
	})
	if cfg.BypassSubscode != "" {
		logger.Warn("Bypass code set; confirmation emails will not be sent")
	}

	directory := topics.NewDirectory(store, cfg.TopicCacheLimit, collector, logger)

	manager := lifecycle.New(&lifecycle.Config{
		Store:        store,
		Topics:       directory,
		Dispatcher:   dispatcher,
		Audit:        sink,
		Metrics:      collector,
		Logger:       logger,
		Caches:       []lifecycle.Flusher{directory, clients},
		ErrorPage:    cfg.ErrorPage,
		BypassCode:   cfg.BypassSubscode,
		FlushCode:    cfg.FlushAccessCode,
		FlushCode2:   cfg.FlushAccessCode2,
		ResendWindow: cfg.ResendWindow,
	})

	srv := server.New(&server.Config{
		Lifecycle:    manager,
		Metrics:      metrics.Handler(reg),
		Logger:       logger,
		KeySalt:      cfg.KeySalt,
		ErrorPage:    cfg.ErrorPage,
		ValidHosts:   cfg.ValidHosts,
		RatePerHour:  cfg.SubscribeRatePerHour,
		EnableTestUI: cfg.LocalMode(),
	}).HTTPServer(cfg.Port)

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Port, "local_mode", cfg.LocalMode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("Confirmation sends still in flight at shutdown", "error", err)
	}
	if err := sink.Close(shutdownCtx); err != nil {
		logger.Warn("Audit log not fully drained", "error", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// openStore connects to MongoDB, or falls back to the in-memory store when no
// URI is configured.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, func(), error) {
	if cfg.LocalMode() {
		logger.Info("No MONGODB_URI set, running with in-memory store")
		mem := storage.NewMemory()
		if cfg.TopicsFile != "" {
			if err := seedTopics(mem, cfg.TopicsFile, logger); err != nil {
				return nil, nil, err
			}
		}
		return mem, func() {}, nil
	}

	m, err := storage.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		_ = m.Close(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			logger.Warn("Failed to close mongo client", "error", err)
		}
	}
	return m, closeFn, nil
}

func seedTopics(mem *storage.Memory, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open topics file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Failed to close topics file", "error", err)
		}
	}()

	n, err := mem.LoadTopics(f)
	if err != nil {
		return fmt.Errorf("load topics from %s: %w", path, err)
	}
	logger.Info("Loaded topics", "path", path, "count", n)
	return nil
}

// auditWriters returns the store plus any configured archives.
func auditWriters(ctx context.Context, cfg *config.Config, store audit.Writer, logger *slog.Logger) (audit.MultiWriter, func(), error) {
	writers := audit.MultiWriter{store}
	closeFn := func() {}

	if cfg.AuditDir != "" {
		if err := os.MkdirAll(cfg.AuditDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create audit directory: %w", err)
		}
		logger.Info("Archiving audit records locally", "dir", cfg.AuditDir)
		writers = append(writers, audit.NewLocalArchive(cfg.AuditDir, logger))
	}

	if cfg.AuditBucket != "" {
		client, err := newStorageClient(ctx, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Archiving audit records to Cloud Storage", "bucket", cfg.AuditBucket)
		writers = append(writers, audit.NewBucketArchive(client, cfg.AuditBucket, logger))
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
	}

	return writers, closeFn, nil
}

// newStorageClient uses explicit credentials when given, otherwise Application
// Default Credentials.
func newStorageClient(ctx context.Context, credsJSON string) (*gcs.Client, error) {
	if credsJSON != "" {
		return gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	return gcs.NewClient(ctx)
}
