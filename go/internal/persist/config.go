package persist

import (
	"fmt"
	"os"
)

// PostgresConfig holds the connection settings for the Postgres backend.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresConfigFromEnv reads DB_* environment variables, with defaults
// suitable for local development.
func PostgresConfigFromEnv() PostgresConfig {
	return PostgresConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     envOr("DB_PORT", "5432"),
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "cuesync"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
}

// DSN returns the pgx connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
