// Package pgstore is the optional, durable workspace.Store backed by
// PostgreSQL: a production deployment wires this in place of
// workspace.MemStore to survive broker restarts.
//
// Grounded on pkg/database/client.go and pkg/database/config.go, adapted
// from ent+atlas generated-client access to direct jackc/pgx/v5 queries
// (see DESIGN.md for why the ent generated client could not be carried
// forward: the pack retrieves only its hand-written ent/schema/*.go, not
// the go:generate output ent/*.go that pkg/database/client.go depends on).
package pgstore

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds connection parameters for the Postgres-backed store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// LoadConfigFromEnv loads pgstore configuration from environment variables,
// mirroring pkg/database/config.go's getEnvOrDefault pipeline.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("BROKER_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BROKER_DB_PORT: %w", err)
	}
	maxConns, err := strconv.Atoi(getEnvOrDefault("BROKER_DB_MAX_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BROKER_DB_MAX_CONNS: %w", err)
	}
	minConns, err := strconv.Atoi(getEnvOrDefault("BROKER_DB_MIN_CONNS", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BROKER_DB_MIN_CONNS: %w", err)
	}
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("BROKER_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BROKER_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("BROKER_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BROKER_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("BROKER_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("BROKER_DB_USER", "broker"),
		Password:        os.Getenv("BROKER_DB_PASSWORD"),
		Database:        getEnvOrDefault("BROKER_DB_NAME", "broker"),
		SSLMode:         getEnvOrDefault("BROKER_DB_SSLMODE", "disable"),
		MaxConns:        int32(maxConns),
		MinConns:        int32(minConns),
		MaxConnLifetime: maxLifetime,
		MaxConnIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious misconfiguration.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("BROKER_DB_PASSWORD is required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("BROKER_DB_MIN_CONNS (%d) cannot exceed BROKER_DB_MAX_CONNS (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// DSN builds a libpq-style connection string for both the pgx pool and the
// database/sql handle golang-migrate drives.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
