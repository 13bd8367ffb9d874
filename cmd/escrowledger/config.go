package main

import (
	"EscrowLedger/internal/oracle"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration, loaded from ESCROW_* variables.
type Config struct {
	// Postgres; empty runs the ledger in memory
	PostgresDSN string

	// NATS; empty disables the quote feed and event publishing
	NATSURL string

	// gRPC/HTTP/Metrics
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	// Event publisher
	PublishBuffer int

	// Claims
	ReplayLRUCapacity int

	// Oracle
	QuoteTTL time.Duration

	// Migrations; empty uses the embedded set
	MigrationsDir string
}

func DefaultConfig() Config {
	return Config{
		PostgresDSN:       os.Getenv("ESCROW_POSTGRES_DSN"),
		NATSURL:           os.Getenv("ESCROW_NATS_URL"),
		GRPCAddr:          envOrDefault("ESCROW_GRPC_ADDR", ":9090"),
		HTTPAddr:          envOrDefault("ESCROW_HTTP_ADDR", ":8080"),
		MetricsAddr:       envOrDefault("ESCROW_METRICS_ADDR", ":9091"),
		PublishBuffer:     envIntOrDefault("ESCROW_PUBLISH_BUFFER", 4096),
		ReplayLRUCapacity: envIntOrDefault("ESCROW_REPLAY_LRU_CAPACITY", 100_000),
		QuoteTTL:          envDurationOrDefault("ESCROW_QUOTE_TTL", oracle.DefaultQuoteTTL),
		MigrationsDir:     os.Getenv("ESCROW_MIGRATIONS_DIR"),
	}
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	if c.PublishBuffer <= 0 {
		return fmt.Errorf("ESCROW_PUBLISH_BUFFER must be positive, got %d", c.PublishBuffer)
	}
	if c.ReplayLRUCapacity <= 0 {
		return fmt.Errorf("ESCROW_REPLAY_LRU_CAPACITY must be positive, got %d", c.ReplayLRUCapacity)
	}
	if c.QuoteTTL <= 0 {
		return fmt.Errorf("ESCROW_QUOTE_TTL must be positive, got %s", c.QuoteTTL)
	}
	return nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
