package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

const (
	uuidLen     = 36
	minKeyLen   = 2*uuidLen + 1
	sendPath    = "/v2/notifications/email"
	maxBodyRead = 4096
)

// ErrInvalidAPIKey is returned for keys not shaped {name}-{serviceId}-{secret}.
var ErrInvalidAPIKey = errors.New("invalid notify api key")

// NotifyClient sends email through the GC Notify REST API.
type NotifyClient struct {
	client    *http.Client
	logger    *slog.Logger
	endpoint  string
	serviceID string
	secret    string
}

// NewNotifyClient parses apiKey and returns a client for endpoint.
func NewNotifyClient(endpoint, apiKey string, logger *slog.Logger) (*NotifyClient, error) {
	serviceID, secret, err := parseAPIKey(apiKey)
	if err != nil {
		return nil, err
	}
	return &NotifyClient{
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		endpoint:  strings.TrimRight(endpoint, "/"),
		serviceID: serviceID,
		secret:    secret,
	}, nil
}

// NewNotifyFactory returns a ClientFactory building NotifyClients for endpoint.
func NewNotifyFactory(endpoint string, logger *slog.Logger) ClientFactory {
	return func(apiKey string) (Client, error) {
		return NewNotifyClient(endpoint, apiKey, logger)
	}
}

// parseAPIKey splits a key of the form {name}-{serviceId uuid}-{secret uuid}.
func parseAPIKey(key string) (serviceID, secret string, err error) {
	if len(key) < minKeyLen {
		return "", "", ErrInvalidAPIKey
	}
	secret = key[len(key)-uuidLen:]
	serviceID = key[len(key)-2*uuidLen-1 : len(key)-uuidLen-1]
	if _, err := uuid.Parse(secret); err != nil {
		return "", "", fmt.Errorf("%w: secret: %v", ErrInvalidAPIKey, err)
	}
	if _, err := uuid.Parse(serviceID); err != nil {
		return "", "", fmt.Errorf("%w: service id: %v", ErrInvalidAPIKey, err)
	}
	return serviceID, secret, nil
}

func (c *NotifyClient) bearer() (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)
	token.Claims = jwt.MapClaims{
		"iss": c.serviceID,
		"iat": time.Now().Unix(),
	}
	return token.SignedString([]byte(c.secret))
}

type notifyRequest struct {
	EmailAddress    string            `json:"email_address"`
	TemplateID      string            `json:"template_id"`
	Personalisation map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference,omitempty"`
}

// SendEmail posts one email notification, retrying transport errors and 5xx/429 responses.
func (c *NotifyClient) SendEmail(ctx context.Context, templateID, to string, opts SendOptions) error {
	jsonData, err := json.Marshal(notifyRequest{
		EmailAddress:    to,
		TemplateID:      templateID,
		Personalisation: opts.Personalisation,
		Reference:       opts.Reference,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			token, err := c.bearer()
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("sign token: %w", err))
			}

			c.logger.Info("Notify API request starting",
				"method", "POST",
				"endpoint", sendPath,
				"template_id", templateID)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+sendPath, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := c.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				c.logger.Warn("Notify API request failed, will retry",
					"template_id", templateID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
				statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
				if !statusErr.Temporary() {
					return retry.Unrecoverable(statusErr)
				}
				c.logger.Warn("Notify API returned retryable status, will retry",
					"status_code", resp.StatusCode,
					"template_id", templateID)
				return statusErr
			}

			c.logger.Info("Notify API request completed",
				"endpoint", sendPath,
				"template_id", templateID,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Notify send after error", "attempt", n, "error", err)
		}),
	)
}
