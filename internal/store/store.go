// Package store defines the similarity store contract: keyed persistence
// of (key, content, embedding) records plus k-nearest-neighbor cosine
// search. Backends live in subpackages (postgres, qdrant, sqlite, memory).
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// store's configured embedding dimension. Such a record is never persisted.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrAppendOnly is returned when Upsert is called on a store opened in
// append mode, where keys are not unique.
var ErrAppendOnly = errors.New("store is in append mode, upsert by key is unavailable")

// Neighbor is a single similarity-search match.
type Neighbor struct {
	Key        string  `json:"key"`
	Similarity float64 `json:"similarity"` // cosine similarity, clamped to [0,1], 4 decimals
}

// Store provides keyed persistence and cosine similarity search over
// embedding vectors. Implementations must be safe for concurrent use; the
// backing database is the sole source of truth, so concurrent upserts on
// one key resolve last-writer-wins at that layer.
type Store interface {
	// Upsert inserts the record or, when key already exists, replaces its
	// content, embedding and updated_at in place. Returns the record's
	// durable identifier. Only valid for stores opened in upsert mode.
	Upsert(ctx context.Context, key, content string, vec []float32) (int64, error)
	// Insert always creates a new record, regardless of key collisions.
	Insert(ctx context.Context, key, content string, vec []float32) (int64, error)
	// Nearest returns up to limit records ordered by descending cosine
	// similarity, optionally excluding one key (so a freshly written
	// record does not match itself). Ties break by insertion order.
	Nearest(ctx context.Context, vec []float32, excludeKey string, limit int) ([]Neighbor, error)
	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)
	// Ping reports backend connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// Mode selects the corpus identity policy. One mode per deployment; the
// two policies never share a table.
type Mode string

const (
	// ModeUpsert keeps key unique: re-ingesting a key replaces the record.
	ModeUpsert Mode = "upsert"
	// ModeAppend creates a new record on every ingestion.
	ModeAppend Mode = "append"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUpsert, ModeAppend:
		return Mode(s), nil
	case "":
		return ModeUpsert, nil
	default:
		return "", fmt.Errorf("unknown store mode %q (want %q or %q)", s, ModeUpsert, ModeAppend)
	}
}

// RoundSimilarity clamps a raw cosine similarity into [0,1] and rounds it
// to 4 decimals, the precision every backend returns.
func RoundSimilarity(sim float64) float64 {
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return math.Round(sim*10000) / 10000
}

// CheckDimension verifies a vector length against the store dimension.
func CheckDimension(vec []float32, dimension int) error {
	if len(vec) != dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dimension)
	}
	return nil
}

// Cosine computes the cosine similarity of two vectors. Zero vectors have
// similarity 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
