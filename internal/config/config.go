/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	MediaRoot     string
	JWTSigningKey string
	MetricsBind   string

	// Connection pool tuning
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Schedule runner
	ScheduleTick time.Duration

	// S3 asset storage (optional; filesystem storage used when unset)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	S3PublicURL       string // CDN or public bucket base URL for asset links

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Event fan-out to external consumers (device agents, notifiers)
	NATSEnabled bool
	NATSURL     string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("SIGNCAST_ENV", "development"),
		HTTPBind:      getEnv("SIGNCAST_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("SIGNCAST_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("SIGNCAST_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:         getEnv("SIGNCAST_DB_DSN", ""),
		MediaRoot:     getEnv("SIGNCAST_MEDIA_ROOT", "./media"),
		JWTSigningKey: getEnv("SIGNCAST_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("SIGNCAST_METRICS_BIND", "127.0.0.1:9000"),

		DBMaxOpenConns:    getEnvInt("SIGNCAST_DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns:    getEnvInt("SIGNCAST_DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: time.Duration(getEnvInt("SIGNCAST_DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,

		ScheduleTick: time.Duration(getEnvInt("SIGNCAST_SCHEDULE_TICK_SECONDS", 30)) * time.Second,

		S3AccessKeyID:     getEnv("SIGNCAST_S3_ACCESS_KEY_ID", os.Getenv("AWS_ACCESS_KEY_ID")),
		S3SecretAccessKey: getEnv("SIGNCAST_S3_SECRET_ACCESS_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
		S3Region:          getEnv("SIGNCAST_S3_REGION", "us-east-1"),
		S3Bucket:          getEnv("SIGNCAST_S3_BUCKET", ""),
		S3Endpoint:        getEnv("SIGNCAST_S3_ENDPOINT", ""),
		S3UsePathStyle:    getEnvBool("SIGNCAST_S3_USE_PATH_STYLE", false),
		S3PublicURL:       getEnv("SIGNCAST_S3_PUBLIC_URL", ""),

		TracingEnabled:    getEnvBool("SIGNCAST_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SIGNCAST_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SIGNCAST_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: getEnvBool("SIGNCAST_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             getEnv("SIGNCAST_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("SIGNCAST_REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("SIGNCAST_REDIS_DB", 0),
		InstanceID:            getEnv("SIGNCAST_INSTANCE_ID", ""),

		NATSEnabled: getEnvBool("SIGNCAST_NATS_ENABLED", false),
		NATSURL:     getEnv("SIGNCAST_NATS_URL", "nats://localhost:4222"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SIGNCAST_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("SIGNCAST_JWT_SIGNING_KEY must be provided")
	}

	if cfg.DBMaxOpenConns < 1 || cfg.DBMaxIdleConns < 0 {
		return nil, fmt.Errorf("database pool sizes must be positive")
	}

	if cfg.ScheduleTick < time.Second {
		return nil, fmt.Errorf("SIGNCAST_SCHEDULE_TICK_SECONDS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
