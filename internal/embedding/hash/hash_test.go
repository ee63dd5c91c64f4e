package hash

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/scorelab/noveltyd/internal/embedding"
)

func TestEmbed_Deterministic(t *testing.T) {
	p := New(128)
	a, err := p.Embed(context.Background(), []string{"solar panel efficiency"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(context.Background(), []string{"solar panel efficiency"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[0][i], b[0][i])
		}
	}
}

func TestEmbed_Normalized(t *testing.T) {
	p := New(0)
	if p.Dimension() != defaultDimension {
		t.Fatalf("Dimension() = %d, want %d", p.Dimension(), defaultDimension)
	}
	vecs, err := p.Embed(context.Background(), []string{"a reasonably long piece of text about novel coatings"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var sum float64
	for _, v := range vecs[0] {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("vector norm^2 = %v, want 1", sum)
	}
}

func TestEmbed_SimilarTextsScoreHigher(t *testing.T) {
	p := New(256)
	vecs, err := p.Embed(context.Background(), []string{
		"solar panel efficiency improvements using novel coatings",
		"a new method to increase solar panel efficiency with coatings",
		"recipes for sourdough bread and pastry dough",
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	simRelated := dot(vecs[0], vecs[1])
	simUnrelated := dot(vecs[0], vecs[2])
	if simRelated <= simUnrelated {
		t.Fatalf("related similarity %v not above unrelated %v", simRelated, simUnrelated)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	p := New(64)
	_, err := p.Embed(context.Background(), []string{"   "})
	if !errors.Is(err, embedding.ErrEmptyInput) {
		t.Fatalf("Embed(blank) = %v, want ErrEmptyInput", err)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
