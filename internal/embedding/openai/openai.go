// Package openai implements embedding.Provider for OpenAI-compatible
// embeddings APIs (OpenAI, Ollama, Together, TEI, vLLM, etc.).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scorelab/noveltyd/internal/embedding"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"
)

// modelDimensions holds the native output size of common embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"all-mpnet-base-v2":      768,
	"nomic-embed-text":       768,
}

// ModelDimension returns the native output size for a known model, or 0.
// Callers that need the dimension before the first request (schema
// creation, lazy provider wiring) resolve it here.
func ModelDimension(model string) int {
	if model == "" {
		model = defaultModel
	}
	return modelDimensions[model]
}

// Client implements embedding.Provider against an OpenAI-compatible
// /embeddings endpoint.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	http      *http.Client
}

// New creates an OpenAI-compatible embedding provider. dimension <= 0
// resolves from the model table; unknown models must pass it explicitly.
func New(apiKey, model, baseURL string, dimension int, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if dimension <= 0 {
		dimension = modelDimensions[model]
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("openai: unknown embedding dimension for model %q, set it explicitly", model)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:    apiKey,
		model:     model,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		dimension: dimension,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Dimension() int { return c.dimension }

// Embed posts the texts to the /embeddings endpoint and returns the
// vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, embedding.ErrEmptyInput
		}
	}

	body := map[string]any{
		"model": c.model,
		"input": texts,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai: embedding count mismatch: got %d, want %d", len(result.Data), len(texts))
	}

	// The API may return entries out of order; index is authoritative.
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("openai: model returned %d-dim vector, want %d", len(d.Embedding), c.dimension)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
