// Package audit appends lifecycle events and send failures off the request path.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"x-notify/metrics"
	"x-notify/pkg/notifier"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 10 * time.Second
)

// Writer persists audit records.
type Writer interface {
	AppendSubsLog(ctx context.Context, entry notifier.AuditEntry) error
	AppendNotifyLog(ctx context.Context, failure notifier.NotificationFailure) error
}

// MultiWriter fans each record out to every writer.
type MultiWriter []Writer

// AppendSubsLog writes entry to every writer and joins their errors.
func (m MultiWriter) AppendSubsLog(ctx context.Context, entry notifier.AuditEntry) error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.AppendSubsLog(ctx, entry))
	}
	return errors.Join(errs...)
}

// AppendNotifyLog writes failure to every writer and joins their errors.
func (m MultiWriter) AppendNotifyLog(ctx context.Context, failure notifier.NotificationFailure) error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.AppendNotifyLog(ctx, failure))
	}
	return errors.Join(errs...)
}

// Config holds Sink settings.
type Config struct {
	Writer         Writer
	Metrics        metrics.Recorder
	Logger         *slog.Logger
	QueueSize      int
	WriteTimeout   time.Duration
	SubsLogEnabled bool // When false, lifecycle entries are discarded; failures are always kept
}

type item struct {
	entry   *notifier.AuditEntry
	failure *notifier.NotificationFailure
}

// Sink is a bounded queue drained by one worker goroutine. Appends never block:
// when the queue is full the record is dropped and counted.
type Sink struct {
	writer         Writer
	metrics        metrics.Recorder
	logger         *slog.Logger
	queue          chan item
	done           chan struct{}
	writeTimeout   time.Duration
	subsLogEnabled bool

	mu     sync.RWMutex
	closed bool
}

// NewSink creates a sink and starts its worker.
func NewSink(cfg *Config) *Sink {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	s := &Sink{
		writer:         cfg.Writer,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		queue:          make(chan item, size),
		done:           make(chan struct{}),
		writeTimeout:   cfg.WriteTimeout,
		subsLogEnabled: cfg.SubsLogEnabled,
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	go s.run()
	return s
}

// Append queues a lifecycle entry.
func (s *Sink) Append(entry notifier.AuditEntry) {
	if !s.subsLogEnabled {
		return
	}
	s.enqueue(item{entry: &entry}, string(entry.Kind))
}

// AppendFailure queues a failed-send record.
func (s *Sink) AppendFailure(f notifier.NotificationFailure) {
	s.enqueue(item{failure: &f}, "notify_failure")
}

func (s *Sink) enqueue(it item, kind string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("Audit record after close dropped", "kind", kind)
		s.metrics.RecordAuditDrop(kind)
		return
	}
	select {
	case s.queue <- it:
	default:
		s.logger.Warn("Audit queue full, record dropped", "kind", kind, "capacity", cap(s.queue))
		s.metrics.RecordAuditDrop(kind)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for it := range s.queue {
		s.write(it)
	}
}

func (s *Sink) write(it item) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	switch {
	case it.entry != nil:
		if err := s.writer.AppendSubsLog(ctx, *it.entry); err != nil {
			s.logger.Error("Failed to append subscription log",
				"kind", it.entry.Kind,
				"topic_id", it.entry.TopicID,
				"error", err)
		}
	case it.failure != nil:
		if err := s.writer.AppendNotifyLog(ctx, *it.failure); err != nil {
			s.logger.Error("Failed to append notify log",
				"template_id", it.failure.TemplateID,
				"error", err)
		}
	}
}

// Close stops accepting records and waits for queued ones to be written,
// or for ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
