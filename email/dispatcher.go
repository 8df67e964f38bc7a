package email

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"x-notify/metrics"
	"x-notify/pkg/notifier"
)

// ConfirmReference tags every confirmation send.
const ConfirmReference = "x-notify_subs_confirm"

const defaultSendTimeout = 2 * time.Minute

// FailureLog accepts failed-send records without blocking.
type FailureLog interface {
	AppendFailure(f notifier.NotificationFailure)
}

// DispatcherConfig holds the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Clients        *ClientCache
	Failures       FailureLog
	Metrics        metrics.Recorder
	Logger         *slog.Logger
	ConfirmBaseURL string
	Bypass         bool          // Suppress sends; everything else runs
	SendTimeout    time.Duration // Per send, detached from the request
	Now            func() time.Time
}

// Dispatcher sends confirmation emails in the background.
type Dispatcher struct {
	clients        *ClientCache
	failures       FailureLog
	metrics        metrics.Recorder
	logger         *slog.Logger
	now            func() time.Time
	confirmBaseURL string
	sendTimeout    time.Duration
	bypass         bool
	wg             sync.WaitGroup
}

// NewDispatcher creates a dispatcher from cfg.
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		clients:        cfg.Clients,
		failures:       cfg.Failures,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            cfg.Now,
		confirmBaseURL: cfg.ConfirmBaseURL,
		sendTimeout:    cfg.SendTimeout,
		bypass:         cfg.Bypass,
	}
	if d.metrics == nil {
		d.metrics = metrics.Nop{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = defaultSendTimeout
	}
	return d
}

// ConfirmLink builds the link a subscriber follows to confirm. The email is
// path-escaped so '/', '?' and '#' in the local part stay inside its segment.
func (d *Dispatcher) ConfirmLink(code, email string) string {
	return d.confirmBaseURL + code + "/" + url.PathEscape(email)
}

// Dispatch sends a confirmation email for code to email. It never blocks on the
// send and never reports an error; failures are handed to the failure log.
func (d *Dispatcher) Dispatch(ctx context.Context, email, code, templateID, apiKey string) {
	if email == "" || code == "" || templateID == "" || apiKey == "" {
		return
	}

	client, err := d.clients.GetOrCreate(apiKey)
	if err != nil {
		d.logger.Warn("Notify client unavailable", "template_id", templateID, "error", err)
		d.fail(templateID, err)
		return
	}

	opts := SendOptions{
		Personalisation: map[string]string{"confirm_link": d.ConfirmLink(code, email)},
		Reference:       ConfirmReference,
	}

	if d.bypass {
		d.logger.Info("Send suppressed in bypass mode", "to", email, "template_id", templateID)
		d.metrics.RecordDispatch("bypassed")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
		defer cancel()

		if err := client.SendEmail(sendCtx, templateID, email, opts); err != nil {
			d.logger.Error("Confirmation email failed", "to", email, "template_id", templateID, "error", err)
			d.fail(templateID, err)
			return
		}
		d.metrics.RecordDispatch("sent")
	}()
}

func (d *Dispatcher) fail(templateID string, err error) {
	d.metrics.RecordDispatch("failed")
	if d.failures == nil {
		return
	}
	d.failures.AppendFailure(notifier.NotificationFailure{
		CreatedAt:  d.now(),
		TemplateID: templateID,
		Cause:      err.Error(),
	})
}

// Wait blocks until every in-flight send has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
