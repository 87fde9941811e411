package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ledgerline/cortex/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("CORTEX_LOG_LEVEL", "")
	t.Setenv("CORTEX_DATABASE_URL", "")
	t.Setenv("CORTEX_SQLITE_PATH", "")
	t.Setenv("CORTEX_REDIS_ADDR", "")
	t.Setenv("CORTEX_REDIS_DB", "")
	t.Setenv("CORTEX_PROFILE_DIR", "")
	t.Setenv("CORTEX_ARTIFACT_DIR", "")
	t.Setenv("CORTEX_OTLP_ENDPOINT", "")
	t.Setenv("CORTEX_ENVIRONMENT", "")
	t.Setenv("CORTEX_SHADOW_MODE", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.Equal(t, "cortex.db", cfg.SQLitePath)
	assert.Empty(t, cfg.RedisAddr)
	assert.Zero(t, cfg.RedisDB)
	assert.Equal(t, "profiles", cfg.ProfileDir)
	assert.Equal(t, "artifacts", cfg.ArtifactDir)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.ShadowMode)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CORTEX_LOG_LEVEL", "DEBUG")
	t.Setenv("CORTEX_DATABASE_URL", "postgres://production:5432/cortex")
	t.Setenv("CORTEX_SQLITE_PATH", "/var/lib/cortex/cortex.db")
	t.Setenv("CORTEX_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("CORTEX_REDIS_PASSWORD", "hunter2")
	t.Setenv("CORTEX_REDIS_DB", "3")
	t.Setenv("CORTEX_PROFILE_DIR", "/etc/cortex/profiles")
	t.Setenv("CORTEX_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("CORTEX_ENVIRONMENT", "production")
	t.Setenv("CORTEX_SHADOW_MODE", "true")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/cortex", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/cortex/cortex.db", cfg.SQLitePath)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "/etc/cortex/profiles", cfg.ProfileDir)
	assert.Equal(t, "otel-collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.ShadowMode)
}

// TestLoad_BadRedisDB verifies that an unparseable redis db index falls
// back to zero instead of failing the boot.
func TestLoad_BadRedisDB(t *testing.T) {
	t.Setenv("CORTEX_REDIS_DB", "not-a-number")

	cfg := config.Load()

	assert.Zero(t, cfg.RedisDB)
}
