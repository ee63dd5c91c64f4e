package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	HealthAddr     string `mapstructure:"health_addr"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// StoreConfig selects the similarity store backend and its identity
// mode. Exactly one backend block is read, per driver.
type StoreConfig struct {
	// Driver is one of "postgres", "qdrant", "sqlite", "memory".
	Driver string `mapstructure:"driver"`
	// Mode is "upsert" (caller-keyed, idempotent) or "append"
	// (every ingest is a new record). One mode per deployment.
	Mode string `mapstructure:"mode"`
	// NeighborLimit caps the similarity query (default 5).
	NeighborLimit int `mapstructure:"neighbor_limit"`

	Postgres PostgresConfig `mapstructure:"postgres"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`

	// TimeoutSeconds is the per-request timeout (default 30).
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// Client-side rate limiting for hosted APIs (0 = unlimited).
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	BurstSize         int `mapstructure:"burst_size"`
}

type ExtractConfig struct {
	// ServiceURL is a Tika-style extraction endpoint. Empty means plain
	// text uploads only.
	ServiceURL     string `mapstructure:"service_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Store.Driver {
	case "", "postgres", "qdrant", "sqlite", "memory":
	default:
		warnings = append(warnings, fmt.Sprintf("store driver '%s' is unknown (expected postgres, qdrant, sqlite or memory)", c.Store.Driver))
	}

	switch c.Store.Mode {
	case "", "upsert", "append":
	default:
		warnings = append(warnings, fmt.Sprintf("store mode '%s' is unknown (expected upsert or append)", c.Store.Mode))
	}

	if c.Store.Driver == "postgres" && c.Store.Postgres.DSN == "" {
		warnings = append(warnings, "store driver 'postgres' is configured but postgres.dsn is empty")
	}
	if c.Store.Driver == "memory" {
		warnings = append(warnings, "store driver 'memory' keeps no data across restarts")
	}

	if c.Store.NeighborLimit < 0 {
		warnings = append(warnings, fmt.Sprintf("store neighbor_limit %d is negative", c.Store.NeighborLimit))
	}

	// Hosted providers need a key; the local hash provider does not.
	if c.Embedding.Provider != "" && c.Embedding.Provider != "hash" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", c.Embedding.Provider))
	}

	if c.Embedding.Dimension < 0 {
		warnings = append(warnings, fmt.Sprintf("embedding dimension %d is negative", c.Embedding.Dimension))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1.0 {
		warnings = append(warnings, fmt.Sprintf("telemetry sample_rate %.2f is outside [0.0, 1.0]", c.Telemetry.SampleRate))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("NOVELTYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
