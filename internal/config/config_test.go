package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "devicelock.db", cfg.Local.StorePath)
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.Email.Enabled)

	assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
	assert.Equal(t, 10*time.Second, cfg.Security.RemoteTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Security.MonitorInterval)
	assert.Equal(t, "@every 15m", cfg.Security.CommandPollSchedule)
	assert.Equal(t, 720*time.Hour, cfg.Security.EventRetention)
	assert.Equal(t, EvaluatorFailedUnlock, cfg.Security.SuspicionEvaluator)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("REMOTE_TIMEOUT", "3s")
	t.Setenv("MONITOR_INTERVAL", "5m")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SUSPICION_EVALUATOR", "composite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.Security.RemoteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Security.MonitorInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, EvaluatorComposite, cfg.Security.SuspicionEvaluator)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET is required")
}

func TestLoad_DBPasswordOnlyRequiredWithRemote(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	assert.ErrorContains(t, err, "DB_PASSWORD")

	t.Setenv("REMOTE_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoad_EmailRequiresFromAddress(t *testing.T) {
	setRequired(t)
	t.Setenv("EMAIL_ENABLED", "true")

	_, err := Load()
	assert.ErrorContains(t, err, "EMAIL_FROM_ADDRESS")
}

func TestLoad_SecurityValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"cap is fixed", "MAX_FAILED_ATTEMPTS", "10"},
		{"monitor interval too short", "MONITOR_INTERVAL", "10s"},
		{"unknown evaluator", "SUSPICION_EVALUATOR", "astrology"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateJWTSecret(t *testing.T) {
	assert.NoError(t, validateJWTSecret("a-development-secret", "development"))
	assert.Error(t, validateJWTSecret("short", "development"))
	assert.Error(t, validateJWTSecret("a-development-secret", "production"))
	assert.NoError(t, validateJWTSecret("a-production-secret-that-is-long-enough", "production"))
}
