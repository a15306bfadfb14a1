package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5.0, cfg.Matching.DefaultRadiusKm)
	assert.Equal(t, 3, cfg.Notification.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Notification.RetryDelay)
	assert.Equal(t, "memory", cfg.CallContext.Backend)
	assert.Equal(t, "91", cfg.Notification.DefaultCountryCode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MATCH_DEFAULT_RADIUS_KM", "12.5")
	t.Setenv("CALL_CONTEXT_BACKEND", "redis")
	t.Setenv("CALL_CONTEXT_TTL", "10m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 12.5, cfg.Matching.DefaultRadiusKm)
	assert.Equal(t, "redis", cfg.CallContext.Backend)
	assert.Equal(t, 10*time.Minute, cfg.CallContext.TTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"CALL_CONTEXT_BACKEND": "memcached"}},
		{"zero radius", map[string]string{"MATCH_DEFAULT_RADIUS_KM": "0"}},
		{"default secret in production", map[string]string{"ENV": "production"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("NOTIFY_RETRY_DELAY", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Notification.RetryDelay)
}
