package email

import (
	"context"
	"log/slog"
	"sync"
)

// SentEmail is a send captured by MockClient.
type SentEmail struct {
	TemplateID string
	To         string
	Options    SendOptions
}

// MockClient logs sends instead of performing them. Used in local mode and tests.
type MockClient struct {
	logger *slog.Logger
	err    error
	sent   []SentEmail
	mu     sync.Mutex
}

// NewMockClient creates a mock client.
func NewMockClient(logger *slog.Logger) *MockClient {
	return &MockClient{logger: logger}
}

// NewMockFactory returns a ClientFactory that hands out one shared MockClient.
func NewMockFactory(m *MockClient) ClientFactory {
	return func(string) (Client, error) { return m, nil }
}

// FailWith makes subsequent sends return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SendEmail records the send and logs it.
func (m *MockClient) SendEmail(_ context.Context, templateID, to string, opts SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("MOCK EMAIL",
		"to", to,
		"template_id", templateID,
		"reference", opts.Reference,
		"confirm_link", opts.Personalisation["confirm_link"])
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, SentEmail{TemplateID: templateID, To: to, Options: opts})
	return nil
}

// Sent returns every successful send so far.
func (m *MockClient) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}
