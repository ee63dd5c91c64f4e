package sqlite

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/scorelab/noveltyd/internal/store"
	"github.com/scorelab/noveltyd/internal/store/memory"
)

func openTest(t *testing.T, mode store.Mode, dim int) *Store {
	t.Helper()
	s, err := Open(":memory:", mode, dim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float32{0.25, -1.5, 0, 3.75}
	out, err := decodeEmbedding(encodeEmbedding(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("value %d: %v != %v", i, in[i], out[i])
		}
	}

	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not divisible by 4")
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := openTest(t, store.ModeUpsert, 3)
	ctx := context.Background()

	id1, err := s.Upsert(ctx, "APP-1", "first text", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	id2, err := s.Upsert(ctx, "APP-1", "second text", []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert created a new row: id %d vs %d", id1, id2)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}

	neighbors, err := s.Nearest(ctx, []float32{0, 1, 0}, "", 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Similarity != 1 {
		t.Fatalf("latest embedding not stored: %+v", neighbors)
	}
}

func TestInsert_AppendMode(t *testing.T) {
	s := openTest(t, store.ModeAppend, 2)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "k", "text", []float32{1, 0}); !errors.Is(err, store.ErrAppendOnly) {
		t.Fatalf("Upsert in append mode = %v, want ErrAppendOnly", err)
	}

	id1, err := s.Insert(ctx, "dup", "a", []float32{1, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := s.Insert(ctx, "dup", "b", []float32{0, 1})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id1 == id2 {
		t.Errorf("Insert reused id %d", id1)
	}
	n, _ := s.Count(ctx)
	if n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestNearest_RoundTripAndExclusion(t *testing.T) {
	s := openTest(t, store.ModeUpsert, 3)
	ctx := context.Background()
	vec := []float32{0.6, 0.8, 0}

	if _, err := s.Upsert(ctx, "self", "own text", vec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	neighbors, err := s.Nearest(ctx, vec, "", 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Key != "self" || neighbors[0].Similarity < 0.9999 {
		t.Fatalf("round-trip neighbor = %+v", neighbors)
	}

	neighbors, err = s.Nearest(ctx, vec, "self", 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("excluded key still returned: %+v", neighbors)
	}
}

func TestNearest_MatchesBruteForceRanking(t *testing.T) {
	dim := 4
	s := openTest(t, store.ModeUpsert, dim)
	ref := memory.New(store.ModeUpsert, dim)
	ctx := context.Background()

	corpus := map[string][]float32{
		"a": {1, 0, 0, 0},
		"b": {0.9, 0.1, 0, 0},
		"c": {0, 1, 0, 0},
		"d": {0.5, 0.5, 0.5, 0.5},
		"e": {0, 0, 0.2, 1},
	}
	// Insertion order must be identical for the tie-break comparison.
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.Upsert(ctx, key, key, corpus[key]); err != nil {
			t.Fatalf("sqlite Upsert(%s): %v", key, err)
		}
		if _, err := ref.Upsert(ctx, key, key, corpus[key]); err != nil {
			t.Fatalf("memory Upsert(%s): %v", key, err)
		}
	}

	query := []float32{0.8, 0.2, 0.1, 0}
	got, err := s.Nearest(ctx, query, "", 5)
	if err != nil {
		t.Fatalf("sqlite Nearest: %v", err)
	}
	want, err := ref.Nearest(ctx, query, "", 5)
	if err != nil {
		t.Fatalf("memory Nearest: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("result count %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key != want[i].Key {
			t.Errorf("rank %d: key %q, want %q", i, got[i].Key, want[i].Key)
		}
		if math.Abs(got[i].Similarity-want[i].Similarity) > 1e-4 {
			t.Errorf("rank %d: similarity %v, want %v", i, got[i].Similarity, want[i].Similarity)
		}
	}
}

func TestDimensionMismatchNeverPersisted(t *testing.T) {
	s := openTest(t, store.ModeUpsert, 3)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "bad", "text", []float32{1, 0}); !errors.Is(err, store.ErrDimensionMismatch) {
		t.Fatalf("Upsert short vector = %v, want ErrDimensionMismatch", err)
	}
	n, _ := s.Count(ctx)
	if n != 0 {
		t.Fatalf("mismatched vector was persisted, count = %d", n)
	}
}
