package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 0.85, cfg.Engine.MinCoverageRatio)
	assert.Equal(t, 10, cfg.Engine.MaxContinuationAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Engine.CallTimeout)
	assert.Equal(t, 7.0, cfg.Engine.MaxCueDuration)
	assert.Equal(t, []string{"sk-test"}, cfg.Quota.Keys)
	assert.Equal(t, "whisper", cfg.STT.Backend)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENGINE_MIN_COVERAGE_RATIO", "0.9")
	t.Setenv("ENGINE_CALL_TIMEOUT", "90s")
	t.Setenv("QUOTA_API_KEYS", "a, b,,c ")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Engine.MinCoverageRatio)
	assert.Equal(t, 90*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Quota.Keys)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoad_InvalidValue(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SERVER_PORT", "eighty"},
		{"ENGINE_MIN_COVERAGE_RATIO", "most"},
		{"ENGINE_CALL_TIMEOUT", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Database.URL = "postgres://localhost/castscribe"
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.Engine.MinCoverageRatio = 1.5
	cfg.Storage.Backend = "ftp"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENGINE_MIN_COVERAGE_RATIO")
	assert.Contains(t, err.Error(), "STORAGE_BACKEND")

	cfg.Engine.MinCoverageRatio = 0.85
	cfg.Storage.Backend = "local"
	cfg.Engine.MaxContinuationAttempts = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENGINE_MAX_CONTINUATION_ATTEMPTS")
}
