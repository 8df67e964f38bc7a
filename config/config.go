// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting the service reads at startup.
type Config struct {
	Port                  string        `validate:"required,numeric"`
	MongoURI              string        `validate:"omitempty,startswith=mongodb"`
	MongoDatabase         string        `validate:"required"`
	NotifyEndpoint        string        `validate:"required,url"`
	ConfirmBaseURL        string        `validate:"required,url"`
	ErrorPage             string        `validate:"required,url"`
	BypassSubscode        string        // Fixed confirmation code; suppresses sends
	FlushAccessCode       string
	FlushAccessCode2      string
	KeySalt               string        `validate:"required"`
	ValidHosts            []string      `validate:"min=1,dive,required"`
	AuditBucket           string        // Optional Cloud Storage archive
	AuditDir              string        // Optional local archive (development)
	GoogleCredentialsJSON string
	TopicsFile            string        // Seeds the in-memory store in local mode
	ResendWindow          time.Duration `validate:"gt=0"`
	TopicCacheLimit       int           `validate:"gt=0"`
	NotifyCacheLimit      int           `validate:"gt=0"`
	AuditQueueSize        int           `validate:"gt=0"`
	SubscribeRatePerHour  int           `validate:"gte=0"` // 0 disables the limiter
	AuditSubsLog          bool
	MockNotify            bool
}

// LocalMode reports whether the service runs without MongoDB.
func (c *Config) LocalMode() bool {
	return c.MongoURI == ""
}

// Load reads an optional .env file and the process environment.
func Load(logger *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults and validating the result.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}

	cfg := &Config{
		Port:                  e.str("PORT", "8080"),
		MongoURI:              e.str("MONGODB_URI", ""),
		MongoDatabase:         e.str("MONGODB_DATABASE", "x-notify"),
		NotifyEndpoint:        e.str("NOTIFY_ENDPOINT", "https://api.notification.alpha.canada.ca"),
		ConfirmBaseURL:        e.str("CONFIRM_BASE_URL", "https://apps.canada.ca/x-notify/subs/confirm/"),
		ErrorPage:             e.str("ERROR_PAGE", "https://canada.ca"),
		BypassSubscode:        e.str("SUBSCODE", ""),
		FlushAccessCode:       e.str("FLUSH_ACCESS_CODE", ""),
		FlushAccessCode2:      e.str("FLUSH_ACCESS_CODE2", ""),
		KeySalt:               e.str("KEY_SALT", "5417"),
		ValidHosts:            e.list("VALID_HOSTS", []string{"localhost:8080"}),
		AuditBucket:           e.str("AUDIT_BUCKET", ""),
		AuditDir:              e.str("AUDIT_DIR", ""),
		GoogleCredentialsJSON: e.str("GOOGLE_CREDENTIALS_JSON", ""),
		TopicsFile:            e.str("TOPICS_FILE", ""),
		ResendWindow:          e.minutes("NOT_SEND_BEFORE", 25),
		TopicCacheLimit:       e.integer("TOPIC_CACHE_LIMIT", 50),
		NotifyCacheLimit:      e.integer("NOTIFY_CACHE_LIMIT", 40),
		AuditQueueSize:        e.integer("AUDIT_QUEUE_SIZE", 1024),
		SubscribeRatePerHour:  e.integer("SUBSCRIBE_RATE_PER_HOUR", 20),
		AuditSubsLog:          getenv("PROD_NO_LOG") == "",
	}
	cfg.MockNotify = e.boolean("MOCK_NOTIFY", cfg.LocalMode())

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// env reads typed values and collects parse errors.
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return fallback
	}
	return n
}

// minutes accepts a bare number of minutes or a Go duration such as "90s".
func (e *env) minutes(key string, fallback int) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return time.Duration(fallback) * time.Minute
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be minutes or a duration: %w", key, err))
		return time.Duration(fallback) * time.Minute
	}
	return d
}

func (e *env) boolean(key string, fallback bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return fallback
	}
	return b
}

func (e *env) list(key string, fallback []string) []string {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
