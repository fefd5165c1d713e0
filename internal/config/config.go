// Package config loads service configuration from the environment.
//
// A .env file in the working directory is loaded first if present; variables
// already set in the process environment win.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the CLI and the API server.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Quality gate
	AcceptThreshold  float64
	EnhanceThreshold float64

	// Generative extractor. Disabled when BaseURL and APIKey are both empty.
	LLM LLMConfig

	// Storage
	SQLitePath string
	Postgres   DBConfig
	ClickHouse DBConfig

	// NATS
	NATSURL           string
	NATSSubject       string
	NATSResultSubject string
	NATSQueue         string

	// API
	APIPort        int
	APIKeys        []string
	APIAuthEnabled bool

	BatchConcurrency int
}

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	BaseURL       string
	APIKey        string
	CheapModel    string
	EscalateModel string
	Timeout       time.Duration
	MaxRetries    int
}

// Enabled reports whether a generative extractor is configured.
func (c LLMConfig) Enabled() bool {
	return c.BaseURL != "" || c.APIKey != ""
}

// DBConfig holds database connection settings. Host empty means disabled.
type DBConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Enabled reports whether a host is configured.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// Load reads the environment. Malformed numeric values fall back to defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		AcceptThreshold:  envOrDefaultFloat("QUALITY_ACCEPT_THRESHOLD", 75),
		EnhanceThreshold: envOrDefaultFloat("QUALITY_ENHANCE_THRESHOLD", 50),

		LLM: LLMConfig{
			BaseURL:       envOrDefault("LLM_BASE_URL", ""),
			APIKey:        envOrDefault("LLM_API_KEY", ""),
			CheapModel:    envOrDefault("LLM_CHEAP_MODEL", "gpt-4o-mini"),
			EscalateModel: envOrDefault("LLM_ESCALATE_MODEL", "gpt-4o"),
			Timeout:       envOrDefaultDuration("LLM_TIMEOUT", 60*time.Second),
			MaxRetries:    envOrDefaultInt("LLM_MAX_RETRIES", 2),
		},

		SQLitePath: envOrDefault("SQLITE_PATH", ""),
		Postgres: DBConfig{
			Host:     envOrDefault("POSTGRES_HOST", ""),
			Port:     envOrDefaultInt("POSTGRES_PORT", 5432),
			Database: envOrDefault("POSTGRES_DB", "tickets"),
			User:     envOrDefault("POSTGRES_USER", "tickets"),
			Password: envOrDefault("POSTGRES_PASSWORD", ""),
		},
		ClickHouse: DBConfig{
			Host:     envOrDefault("CLICKHOUSE_HOST", ""),
			Port:     envOrDefaultInt("CLICKHOUSE_PORT", 9000),
			Database: envOrDefault("CLICKHOUSE_DB", "tickets"),
			User:     envOrDefault("CLICKHOUSE_USER", "default"),
			Password: envOrDefault("CLICKHOUSE_PASSWORD", ""),
		},

		NATSURL:           envOrDefault("NATS_URL", ""),
		NATSSubject:       envOrDefault("NATS_SUBJECT", "tickets.documents"),
		NATSResultSubject: envOrDefault("NATS_RESULT_SUBJECT", "tickets.parsed"),
		NATSQueue:         envOrDefault("NATS_QUEUE", "ticket-parsers"),

		APIPort:        envOrDefaultInt("API_PORT", 8080),
		APIKeys:        splitList(envOrDefault("API_KEYS", "")),
		APIAuthEnabled: envOrDefaultBool("API_AUTH_ENABLED", false),

		BatchConcurrency: envOrDefaultInt("BATCH_CONCURRENCY", 4),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
