// Package lifecycle implements the subscribe, confirm and unsubscribe state machine.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"x-notify/metrics"
	"x-notify/pkg/notifier"
)

// DefaultResendWindow is the minimum gap between confirmation sends for one pending subscription.
const DefaultResendWindow = 25 * time.Minute

// Store provides the single-record atomic primitives the state machine relies on.
type Store interface {
	CreateMarker(ctx context.Context, email, topicID string) (notifier.InsertResult, error)
	DeleteMarker(ctx context.Context, email, topicID string) error
	InsertUnconfirmed(ctx context.Context, rec *notifier.Unconfirmed) error
	AdvanceResend(ctx context.Context, email, topicID string, now, next time.Time) (*notifier.Unconfirmed, error)
	TakeUnconfirmed(ctx context.Context, email, code string) (*notifier.Unconfirmed, error)
	InsertConfirmed(ctx context.Context, rec *notifier.Confirmed) error
	TakeConfirmed(ctx context.Context, email, code string) (*notifier.Confirmed, error)
	InsertTombstone(ctx context.Context, rec *notifier.Tombstone) error
}

// TopicDirectory resolves topics.
type TopicDirectory interface {
	Get(ctx context.Context, id string) (*notifier.Topic, error)
}

// Dispatcher sends confirmation emails without blocking.
type Dispatcher interface {
	Dispatch(ctx context.Context, email, code, templateID, apiKey string)
}

// AuditLog accepts lifecycle events without blocking.
type AuditLog interface {
	Append(entry notifier.AuditEntry)
}

// Flusher is a cache that can be emptied.
type Flusher interface {
	Flush()
}

// Config holds the collaborators and settings of a Manager.
type Config struct {
	Store        Store
	Topics       TopicDirectory
	Dispatcher   Dispatcher
	Audit        AuditLog
	Metrics      metrics.Recorder
	Logger       *slog.Logger
	Caches       []Flusher // Emptied by FlushCaches
	ErrorPage    string    // Generic error redirect
	BypassCode   string    // Fixed confirmation code; also puts the dispatcher in bypass mode
	FlushCode    string
	FlushCode2   string
	ResendWindow time.Duration
	Now          func() time.Time
	NewCode      func(now time.Time) string
}

// Manager runs lifecycle transitions. It holds no locks; same-pair requests are
// serialized only by the store's atomic operations.
type Manager struct {
	store        Store
	topics       TopicDirectory
	dispatcher   Dispatcher
	audit        AuditLog
	metrics      metrics.Recorder
	logger       *slog.Logger
	caches       []Flusher
	errorPage    string
	bypassCode   string
	flushCode    string
	flushCode2   string
	resendWindow time.Duration
	now          func() time.Time
	newCode      func(now time.Time) string
}

// New creates a Manager from cfg.
func New(cfg *Config) *Manager {
	m := &Manager{
		store:        cfg.Store,
		topics:       cfg.Topics,
		dispatcher:   cfg.Dispatcher,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		caches:       cfg.Caches,
		errorPage:    cfg.ErrorPage,
		bypassCode:   cfg.BypassCode,
		flushCode:    cfg.FlushCode,
		flushCode2:   cfg.FlushCode2,
		resendWindow: cfg.ResendWindow,
		now:          cfg.Now,
		newCode:      cfg.NewCode,
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	if m.resendWindow <= 0 {
		m.resendWindow = DefaultResendWindow
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newCode == nil {
		m.newCode = randomCode
	}
	return m
}

// randomCode returns a numeric code: a random number below 999999 followed by
// the current millisecond. Codes may collide; lookups always pair them with an email.
func randomCode(now time.Time) string {
	return fmt.Sprintf("%d%d", rand.IntN(999999), now.Nanosecond()/int(time.Millisecond))
}

func (m *Manager) code(now time.Time) string {
	if m.bypassCode != "" {
		return m.bypassCode
	}
	return m.newCode(now)
}

func (m *Manager) outcome(op string, r notifier.Redirect) notifier.Redirect {
	m.metrics.RecordOutcome(op, string(r.Target))
	return r
}

func (m *Manager) fail() notifier.Redirect {
	return notifier.Redirect{Target: notifier.TargetError, URL: m.errorPage}
}

// Subscribe starts a subscription for email to topicID, or resends the pending
// confirmation when one already exists. New and existing subscriptions return
// the same thank-you redirect.
func (m *Manager) Subscribe(ctx context.Context, email, topicID string) notifier.Redirect {
	const op = "subscribe"

	topic, err := m.topics.Get(ctx, topicID)
	if err != nil {
		m.logger.Info("Subscribe to unknown topic", "topic_id", topicID, "error", err)
		return m.outcome(op, m.fail())
	}

	if err := ValidateEmail(email); err != nil {
		return m.outcome(op, notifier.Redirect{Target: notifier.TargetInputError, URL: topic.InputErrURL})
	}

	now := m.now()
	res, err := m.store.CreateMarker(ctx, email, topicID)
	if err != nil {
		m.logger.Error("Failed to create subscription marker", "topic_id", topicID, "error", err)
		return m.outcome(op, notifier.Redirect{Target: notifier.TargetTopicFailure, URL: topic.FailURL})
	}

	thanks := notifier.Redirect{Target: notifier.TargetThanks, URL: topic.ThankURL}

	if res == notifier.AlreadyExists {
		m.Resend(ctx, email, topicID, now)
		return m.outcome(op, thanks)
	}

	rec := &notifier.Unconfirmed{
		NotBefore:  now.Add(m.resendWindow),
		CreatedAt:  now,
		Email:      email,
		Subscode:   m.code(now),
		TopicID:    topicID,
		TemplateID: topic.TemplateID,
		NotifyKey:  topic.NotifyKey,
		ConfirmURL: topic.ConfirmURL,
	}
	if err := m.store.InsertUnconfirmed(ctx, rec); err != nil {
		// The marker stays behind and blocks this pair until removed by hand.
		m.logger.Error("Failed to store pending subscription, marker orphaned",
			"topic_id", topicID,
			"error", err)
		return m.outcome(op, notifier.Redirect{Target: notifier.TargetTopicFailure, URL: topic.FailURL})
	}

	m.dispatcher.Dispatch(ctx, email, rec.Subscode, rec.TemplateID, rec.NotifyKey)
	m.logger.Info("Subscription pending confirmation", "topic_id", topicID)
	return m.outcome(op, thanks)
}

// Resend re-dispatches the confirmation for a pending (email, topicID)
// subscription if its resend window has elapsed at now. It reports whether a
// dispatch was issued. A miss is silent.
func (m *Manager) Resend(ctx context.Context, email, topicID string, now time.Time) bool {
	rec, err := m.store.AdvanceResend(ctx, email, topicID, now, now.Add(m.resendWindow))
	if err != nil && !errors.Is(err, notifier.ErrNotFound) {
		m.logger.Error("Failed to advance resend window", "topic_id", topicID, "error", err)
		return false
	}

	withEmail := rec != nil
	m.audit.Append(notifier.AuditEntry{
		CreatedAt: now,
		Kind:      notifier.AuditResend,
		Email:     email,
		TopicID:   topicID,
		WithEmail: &withEmail,
	})

	if rec == nil {
		return false
	}
	m.dispatcher.Dispatch(ctx, email, rec.Subscode, rec.TemplateID, rec.NotifyKey)
	m.logger.Info("Confirmation resent", "topic_id", topicID)
	return true
}

// Confirm moves the pending subscription matching (email, code) to confirmed.
func (m *Manager) Confirm(ctx context.Context, email, code string) notifier.Redirect {
	const op = "confirm"

	if email == "" || code == "" {
		return m.outcome(op, m.fail())
	}

	rec, err := m.store.TakeUnconfirmed(ctx, email, code)
	if err != nil {
		if !errors.Is(err, notifier.ErrNotFound) {
			m.logger.Error("Failed to take pending subscription", "error", err)
		}
		return m.outcome(op, m.fail())
	}

	if err := m.store.InsertConfirmed(ctx, &notifier.Confirmed{
		Email:    email,
		Subscode: code,
		TopicID:  rec.TopicID,
	}); err != nil {
		m.logger.Error("Failed to store confirmed subscription", "topic_id", rec.TopicID, "error", err)
		return m.outcome(op, m.fail())
	}

	now := m.now()
	m.audit.Append(notifier.AuditEntry{
		CreatedAt: rec.CreatedAt,
		Kind:      notifier.AuditSubscribe,
		Email:     email,
		TopicID:   rec.TopicID,
		Subscode:  code,
	})
	m.audit.Append(notifier.AuditEntry{
		CreatedAt: now,
		Kind:      notifier.AuditConfirm,
		Email:     email,
		TopicID:   rec.TopicID,
		Subscode:  code,
	})

	m.logger.Info("Subscription confirmed", "topic_id", rec.TopicID)
	return m.outcome(op, notifier.Redirect{Target: notifier.TargetConfirmed, URL: rec.ConfirmURL})
}

// Unsubscribe removes the confirmed subscription matching (email, code) and
// frees the pair for a future subscribe.
func (m *Manager) Unsubscribe(ctx context.Context, email, code string) notifier.Redirect {
	const op = "unsubscribe"

	if email == "" || code == "" {
		return m.outcome(op, m.fail())
	}

	rec, err := m.store.TakeConfirmed(ctx, email, code)
	if err != nil {
		if !errors.Is(err, notifier.ErrNotFound) {
			m.logger.Error("Failed to take confirmed subscription", "error", err)
		}
		return m.outcome(op, m.fail())
	}

	topic, err := m.topics.Get(ctx, rec.TopicID)
	if err != nil {
		m.logger.Warn("Unsubscribe from unknown topic", "topic_id", rec.TopicID, "error", err)
		return m.outcome(op, m.fail())
	}

	now := m.now()
	m.audit.Append(notifier.AuditEntry{
		CreatedAt: now,
		Kind:      notifier.AuditUnsubscribe,
		Email:     email,
		TopicID:   rec.TopicID,
		Subscode:  code,
	})

	if err := m.store.InsertTombstone(ctx, &notifier.Tombstone{
		CreatedAt: now,
		Email:     email,
		TopicID:   rec.TopicID,
	}); err != nil {
		m.logger.Warn("Failed to record unsubscribe tombstone", "topic_id", rec.TopicID, "error", err)
	}

	if err := m.store.DeleteMarker(ctx, email, rec.TopicID); err != nil {
		m.logger.Error("Failed to delete subscription marker", "topic_id", rec.TopicID, "error", err)
		return m.outcome(op, m.fail())
	}

	m.logger.Info("Subscription removed", "topic_id", rec.TopicID)
	return m.outcome(op, notifier.Redirect{Target: notifier.TargetUnsubscribed, URL: topic.UnsubURL})
}

// FlushCaches empties every cache when both codes match the configured
// secrets. Nothing is flushed while either secret is unset.
func (m *Manager) FlushCaches(code, code2 string) bool {
	if m.flushCode == "" || m.flushCode2 == "" {
		return false
	}
	ok1 := subtle.ConstantTimeCompare([]byte(code), []byte(m.flushCode)) == 1
	ok2 := subtle.ConstantTimeCompare([]byte(code2), []byte(m.flushCode2)) == 1
	if !ok1 || !ok2 {
		m.logger.Warn("Cache flush rejected")
		return false
	}

	for _, c := range m.caches {
		c.Flush()
	}
	m.logger.Info("Caches flushed", "count", len(m.caches))
	return true
}
