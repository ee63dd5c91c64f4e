// Package postgres implements the similarity store on PostgreSQL with the
// pgvector extension. This is the production backend: the embedding lives
// in a vector(D) column, nearest-neighbor search uses the <=> cosine
// distance operator and an ivfflat index, and upserts ride on a unique key
// constraint.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/scorelab/noveltyd/internal/store"
)

// Store implements store.Store on PostgreSQL + pgvector.
type Store struct {
	pool      *pgxpool.Pool
	mode      store.Mode
	dimension int
}

// Open connects a pgx pool and registers the pgvector type on every
// connection. It does not create the schema; call Migrate for that.
func Open(ctx context.Context, dsn string, mode store.Mode, dimension int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &Store{pool: pool, mode: mode, dimension: dimension}, nil
}

// Migrate installs the pgvector extension and creates the proposals table
// and indexes. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS proposals (
	id BIGSERIAL PRIMARY KEY,
	key TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.dimension),
		// ivfflat trades exactness for speed on large corpora; with the
		// default probes it still matches brute-force ranking at the
		// corpus sizes this service sees.
		`CREATE INDEX IF NOT EXISTS proposals_embedding_idx
	ON proposals USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	if s.mode == store.ModeUpsert {
		stmts = append(stmts, `CREATE UNIQUE INDEX IF NOT EXISTS proposals_key_idx ON proposals (key)`)
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	if s.mode != store.ModeUpsert {
		return 0, store.ErrAppendOnly
	}
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return 0, err
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO proposals (key, content, embedding) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding,
	updated_at = now()
RETURNING id`, key, content, pgvector.NewVector(vec)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres upsert: %w", err)
	}
	return id, nil
}

func (s *Store) Insert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return 0, err
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO proposals (key, content, embedding) VALUES ($1, $2, $3) RETURNING id`,
		key, content, pgvector.NewVector(vec)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres insert: %w", err)
	}
	return id, nil
}

func (s *Store) Nearest(ctx context.Context, vec []float32, excludeKey string, limit int) ([]store.Neighbor, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx, `
SELECT key, 1 - (embedding <=> $1) AS similarity
FROM proposals
WHERE $2 = '' OR key <> $2
ORDER BY embedding <=> $1, id
LIMIT $3`, pgvector.NewVector(vec), excludeKey, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres nearest: %w", err)
	}
	defer rows.Close()

	var out []store.Neighbor
	for rows.Next() {
		var n store.Neighbor
		if err := rows.Scan(&n.Key, &n.Similarity); err != nil {
			return nil, fmt.Errorf("postgres nearest: %w", err)
		}
		n.Similarity = store.RoundSimilarity(n.Similarity)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres nearest: %w", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
