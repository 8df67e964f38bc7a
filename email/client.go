// Package email sends confirmation emails through GC Notify.
package email

import (
	"context"
	"fmt"
)

// Client sends a templated email.
type Client interface {
	SendEmail(ctx context.Context, templateID, to string, opts SendOptions) error
}

// SendOptions carries template personalisation and a reference tag.
type SendOptions struct {
	Personalisation map[string]string
	Reference       string
}

// ClientFactory builds a client for an API key. It must not perform network I/O.
type ClientFactory func(apiKey string) (Client, error)

// HTTPStatusError is returned when the notification API answers with a non-2xx status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request is worth retrying.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
