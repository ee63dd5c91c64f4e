// Package hash provides a local, deterministic embedding provider based on
// signed feature hashing. It needs no network or model files, which makes
// it the default for development and tests. Vectors are L2-normalized, so
// cosine similarity behaves sensibly, but the embeddings carry only
// lexical signal; production deployments use a real model provider.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/scorelab/noveltyd/internal/embedding"
)

const defaultDimension = 256

// Provider implements embedding.Provider with signed feature hashing.
type Provider struct {
	dimension int
}

// New creates a hash provider. dimension <= 0 selects the default.
func New(dimension int) *Provider {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Provider{dimension: dimension}
}

func (p *Provider) Name() string { return "hash" }

func (p *Provider) Dimension() int { return p.dimension }

// Embed hashes each token of each text into a fixed-length bucket vector
// and L2-normalizes the result.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, embedding.ErrEmptyInput
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *Provider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimension))
		// One spare bit decides the sign so colliding tokens can cancel
		// instead of always accumulating.
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
