// Package memory is a brute-force in-process store used for development
// and as the reference implementation in tests: every backend must match
// its ranking for the corpus sizes under test.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/scorelab/noveltyd/internal/store"
)

type record struct {
	id      int64
	key     string
	content string
	vec     []float32
}

// Store implements store.Store with exact cosine search over all records.
type Store struct {
	mu        sync.RWMutex
	mode      store.Mode
	dimension int
	nextID    int64
	records   []record
}

// New creates an empty in-memory store.
func New(mode store.Mode, dimension int) *Store {
	return &Store{mode: mode, dimension: dimension, nextID: 1}
}

func (s *Store) Upsert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	if s.mode != store.ModeUpsert {
		return 0, store.ErrAppendOnly
	}
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].key == key {
			s.records[i].content = content
			s.records[i].vec = vec
			return s.records[i].id, nil
		}
	}
	return s.append(key, content, vec), nil
}

func (s *Store) Insert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(key, content, vec), nil
}

func (s *Store) append(key, content string, vec []float32) int64 {
	id := s.nextID
	s.nextID++
	s.records = append(s.records, record{id: id, key: key, content: content, vec: vec})
	return id
}

func (s *Store) Nearest(ctx context.Context, vec []float32, excludeKey string, limit int) ([]store.Neighbor, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		key string
		sim float64
	}
	matches := make([]scored, 0, len(s.records))
	for _, r := range s.records {
		if excludeKey != "" && r.key == excludeKey {
			continue
		}
		matches = append(matches, scored{key: r.key, sim: store.Cosine(vec, r.vec)})
	}

	// Stable sort keeps insertion order on similarity ties.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })

	if limit > len(matches) {
		limit = len(matches)
	}
	out := make([]store.Neighbor, 0, limit)
	for _, m := range matches[:limit] {
		out = append(out, store.Neighbor{Key: m.key, Similarity: store.RoundSimilarity(m.sim)})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
