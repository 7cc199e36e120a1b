// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Reservation policies.
const (
	PolicyCompensate  = "compensate"
	PolicyKeepPartial = "keep-partial"
)

type Config struct {
	Server    ServerConfig
	Logger    LoggerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Sequences SequenceConfig
	Ledger    LedgerConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level       string
	Development bool
}

type PostgresConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type SequenceConfig struct {
	Backend          string
	RetryBudget      int
	DegradedFallback bool
}

type LedgerConfig struct {
	Storage                   string
	ReservationPolicy         string
	QuoteValidity             time.Duration
	AuditCompressionThreshold int
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Tenants   []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
		Postgres: PostgresConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Sequences: SequenceConfig{
			Backend:          getEnv("SEQUENCE_BACKEND", BackendPostgres),
			RetryBudget:      getEnvInt("SEQUENCE_RETRY_BUDGET", 5),
			DegradedFallback: getEnvBool("SEQUENCE_DEGRADED_FALLBACK", false),
		},
		Ledger: LedgerConfig{
			Storage:                   getEnv("STORAGE_BACKEND", BackendPostgres),
			ReservationPolicy:         getEnv("RESERVATION_POLICY", PolicyCompensate),
			QuoteValidity:             getEnvDuration("QUOTE_VALIDITY", 720*time.Hour),
			AuditCompressionThreshold: getEnvInt("AUDIT_COMPRESSION_THRESHOLD", 1024),
		},
		Worker: WorkerConfig{
			Interval:  getEnvDuration("WORKER_INTERVAL", time.Minute),
			BatchSize: getEnvInt("WORKER_BATCH_SIZE", 100),
			Tenants:   getEnvList("WORKER_TENANTS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Ledger.Storage {
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for storage backend %q", c.Ledger.Storage)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Ledger.Storage)
	}

	switch c.Sequences.Backend {
	case BackendPostgres:
		if c.Ledger.Storage != BackendPostgres {
			c.Sequences.Backend = c.Ledger.Storage
		}
	case BackendRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("REDIS_ADDR is required for sequence backend redis")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown SEQUENCE_BACKEND %q", c.Sequences.Backend)
	}

	if c.Sequences.RetryBudget < 1 {
		return fmt.Errorf("SEQUENCE_RETRY_BUDGET must be at least 1")
	}

	switch c.Ledger.ReservationPolicy {
	case PolicyCompensate, PolicyKeepPartial:
	default:
		return fmt.Errorf("unknown RESERVATION_POLICY %q", c.Ledger.ReservationPolicy)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
