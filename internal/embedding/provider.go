// Package embedding defines the text-embedding provider contract and the
// factory that builds providers from configuration.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyInput is returned when a text is empty after normalization.
var ErrEmptyInput = errors.New("empty input text")

// Provider is the interface all embedding backends must implement.
// Implementations must be deterministic for a fixed model version and safe
// for concurrent use.
type Provider interface {
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the fixed output vector length.
	Dimension() int
	// Name returns the provider identifier (e.g. "openai", "hash").
	Name() string
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vecs))
	}
	return vecs[0], nil
}

// ProviderConfig holds all configuration needed to create any provider.
type ProviderConfig struct {
	Provider  string // "openai", "hash", "custom"
	APIKey    string
	Model     string
	BaseURL   string // Override for self-hosted / custom endpoints
	Dimension int    // Expected vector length; 0 = model default

	// Timeout per embedding request (default: 30s)
	Timeout time.Duration

	// Client-side rate limiting for hosted APIs (0 = unlimited)
	RequestsPerMinute int
	BurstSize         int
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 30 * time.Second,
	}
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// NewFactory creates an empty factory; providers register themselves via
// Register (see the register helpers in cmd).
func NewFactory() *ProviderFactory {
	return &ProviderFactory{
		constructors: make(map[string]ProviderConstructor),
	}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config. The returned provider is wrapped
// with rate limiting when configured. Create never performs network or
// model initialization itself; expensive setup belongs to the provider's
// first Embed call (see Lazy).
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (registered: %v)", cfg.Provider, f.names())
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		provider = NewRateLimitProvider(provider, &RateLimitConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			BurstSize:         cfg.BurstSize,
		})
	}

	return provider, nil
}

func (f *ProviderFactory) names() []string {
	var out []string
	for k := range f.constructors {
		out = append(out, k)
	}
	return out
}

// KnownProviders documents the built-in provider presets.
// For OpenAI-compatible embedding APIs (Ollama, Together, TEI, vLLM, etc.)
// use the "openai" provider with a custom base_url.
//
//	openai     → https://api.openai.com/v1
//	ollama     → http://localhost:11434/v1
//	together   → https://api.together.xyz/v1
//	huggingface→ https://api-inference.huggingface.co/v1
//	hash       → local deterministic feature hashing (dev/test only)
var KnownProviders = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"ollama":      "http://localhost:11434/v1",
	"together":    "https://api.together.xyz/v1",
	"huggingface": "https://api-inference.huggingface.co/v1",
	"hash":        "(local)",
}
