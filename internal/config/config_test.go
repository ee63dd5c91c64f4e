package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Empty(t *testing.T) {
	cfg := &Config{}
	warnings := cfg.Validate()
	if len(warnings) != 0 {
		t.Errorf("empty config should have no warnings, got %v", warnings)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "mongodb"}}
	if !hasWarning(cfg.Validate(), "driver") {
		t.Error("expected warning about unknown driver")
	}
}

func TestValidate_KnownDrivers(t *testing.T) {
	for _, driver := range []string{"postgres", "qdrant", "sqlite", "memory"} {
		cfg := &Config{Store: StoreConfig{Driver: driver, Postgres: PostgresConfig{DSN: "x"}}}
		if hasWarning(cfg.Validate(), "unknown") {
			t.Errorf("driver %q should not warn as unknown", driver)
		}
	}
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Mode: "replace"}}
	if !hasWarning(cfg.Validate(), "mode") {
		t.Error("expected warning about unknown mode")
	}

	for _, mode := range []string{"", "upsert", "append"} {
		cfg := &Config{Store: StoreConfig{Mode: mode}}
		if hasWarning(cfg.Validate(), "mode") {
			t.Errorf("mode %q should not warn", mode)
		}
	}
}

func TestValidate_PostgresWithoutDSN(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "postgres"}}
	if !hasWarning(cfg.Validate(), "dsn") {
		t.Error("expected warning about missing dsn")
	}
}

func TestValidate_MemoryDriverWarns(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "memory"}}
	if !hasWarning(cfg.Validate(), "restarts") {
		t.Error("expected warning about volatile memory store")
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Provider: "openai"}}
	if !hasWarning(cfg.Validate(), "api_key") {
		t.Error("expected warning about missing api_key")
	}
}

func TestValidate_HashProviderNeedsNoKey(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{Provider: "hash"}}
	if hasWarning(cfg.Validate(), "api_key") {
		t.Error("'hash' provider should not warn about missing api_key")
	}
}

func TestValidate_SampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want bool // true = should warn
	}{
		{"zero", 0, false},
		{"half", 0.5, false},
		{"full", 1.0, false},
		{"negative", -0.1, true},
		{"too_high", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Telemetry: TelemetryConfig{SampleRate: tt.rate}}
			if got := hasWarning(cfg.Validate(), "sample_rate"); got != tt.want {
				t.Errorf("sample_rate=%.1f: hasWarn=%v, want=%v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noveltyd.yaml")
	content := `
server:
  listen_addr: ":8000"
store:
  driver: sqlite
  mode: upsert
  neighbor_limit: 5
  sqlite:
    path: /tmp/novelty.db
embedding:
  provider: hash
  dimension: 256
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLite.Path != "/tmp/novelty.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.NeighborLimit != 5 {
		t.Errorf("neighbor_limit = %d", cfg.Store.NeighborLimit)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Embedding.Dimension != 256 {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
