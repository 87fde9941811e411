// Package config loads process configuration from the environment and
// per-tenant governance profiles from YAML files.
package config

import (
	"os"
	"strconv"
)

// Config holds process-level configuration. Per-tenant tuning (rules,
// policies, thresholds) lives in profiles, not here.
type Config struct {
	LogLevel      string
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProfileDir    string
	ArtifactDir   string
	OTLPEndpoint  string
	Environment   string
	ShadowMode    bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("CORTEX_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("CORTEX_DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://cortex@localhost:5432/cortex?sslmode=disable"
	}

	sqlitePath := os.Getenv("CORTEX_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "cortex.db"
	}

	profileDir := os.Getenv("CORTEX_PROFILE_DIR")
	if profileDir == "" {
		profileDir = "profiles"
	}

	artifactDir := os.Getenv("CORTEX_ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = "artifacts"
	}

	otlpEndpoint := os.Getenv("CORTEX_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	environment := os.Getenv("CORTEX_ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	redisDB := 0
	if raw := os.Getenv("CORTEX_REDIS_DB"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			redisDB = n
		}
	}

	shadowMode := os.Getenv("CORTEX_SHADOW_MODE") == "true"

	return &Config{
		LogLevel:      logLevel,
		DatabaseURL:   dbURL,
		SQLitePath:    sqlitePath,
		RedisAddr:     os.Getenv("CORTEX_REDIS_ADDR"),
		RedisPassword: os.Getenv("CORTEX_REDIS_PASSWORD"),
		RedisDB:       redisDB,
		ProfileDir:    profileDir,
		ArtifactDir:   artifactDir,
		OTLPEndpoint:  otlpEndpoint,
		Environment:   environment,
		ShadowMode:    shadowMode,
	}
}
