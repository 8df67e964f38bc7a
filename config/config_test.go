package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "x-notify", cfg.MongoDatabase)
	assert.Equal(t, "https://api.notification.alpha.canada.ca", cfg.NotifyEndpoint)
	assert.Equal(t, "https://apps.canada.ca/x-notify/subs/confirm/", cfg.ConfirmBaseURL)
	assert.Equal(t, "https://canada.ca", cfg.ErrorPage)
	assert.Equal(t, "5417", cfg.KeySalt)
	assert.Equal(t, []string{"localhost:8080"}, cfg.ValidHosts)
	assert.Equal(t, 25*time.Minute, cfg.ResendWindow)
	assert.Equal(t, 50, cfg.TopicCacheLimit)
	assert.Equal(t, 40, cfg.NotifyCacheLimit)
	assert.Equal(t, 1024, cfg.AuditQueueSize)
	assert.Equal(t, 20, cfg.SubscribeRatePerHour)
	assert.True(t, cfg.AuditSubsLog)
	assert.True(t, cfg.LocalMode())
	assert.True(t, cfg.MockNotify, "local mode mocks Notify by default")
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"PORT":               "9090",
		"MONGODB_URI":        "mongodb://db:27017",
		"NOT_SEND_BEFORE":    "5",
		"TOPIC_CACHE_LIMIT":  "3",
		"NOTIFY_CACHE_LIMIT": "2",
		"VALID_HOSTS":        "apps.canada.ca, localhost:8080 ,",
		"PROD_NO_LOG":        "1",
		"SUBSCODE":           "000000",
		"FLUSH_ACCESS_CODE":  "a",
		"FLUSH_ACCESS_CODE2": "b",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.LocalMode())
	assert.False(t, cfg.MockNotify)
	assert.Equal(t, 5*time.Minute, cfg.ResendWindow)
	assert.Equal(t, 3, cfg.TopicCacheLimit)
	assert.Equal(t, 2, cfg.NotifyCacheLimit)
	assert.Equal(t, []string{"apps.canada.ca", "localhost:8080"}, cfg.ValidHosts)
	assert.False(t, cfg.AuditSubsLog)
	assert.Equal(t, "000000", cfg.BypassSubscode)
	assert.Equal(t, "a", cfg.FlushAccessCode)
	assert.Equal(t, "b", cfg.FlushAccessCode2)
}

func TestFromEnvDurationWindow(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"NOT_SEND_BEFORE": "90s"}))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ResendWindow)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"non-numeric limit":  {"TOPIC_CACHE_LIMIT": "many"},
		"zero limit":         {"NOTIFY_CACHE_LIMIT": "0"},
		"bad window":         {"NOT_SEND_BEFORE": "soon"},
		"bad endpoint":       {"NOTIFY_ENDPOINT": "not a url"},
		"bad mongo uri":      {"MONGODB_URI": "postgres://x"},
		"non-numeric port":   {"PORT": "http"},
		"bad mock flag":      {"MOCK_NOTIFY": "maybe"},
		"negative rate":      {"SUBSCRIBE_RATE_PER_HOUR": "-1"},
		"empty host list":    {"VALID_HOSTS": " , "},
		"zero window":        {"NOT_SEND_BEFORE": "0"},
		"negative queue":     {"AUDIT_QUEUE_SIZE": "-5"},
		"bad error page url": {"ERROR_PAGE": "canada"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envMap(env))
			assert.Error(t, err)
		})
	}
}
