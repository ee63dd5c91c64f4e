// Package sqlite implements the similarity store on a single SQLite file
// using the pure-Go modernc.org/sqlite driver. Embeddings are stored as
// little-endian float32 BLOBs and cosine similarity is computed by a
// registered deterministic scalar function, so the nearest-neighbor query
// is an exact brute-force ranking done inside SQL. Suited to small,
// single-node corpora; larger deployments use the postgres or qdrant
// backends.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	sqlitedriver "modernc.org/sqlite"

	"github.com/scorelab/noveltyd/internal/store"
)

var registerOnce sync.Once

// registerVecCosine registers the vec_cosine(blob, blob) scalar function.
// Registration is driver-global and must happen before connections open.
func registerVecCosine() {
	registerOnce.Do(func() {
		_ = sqlitedriver.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosineImpl)
	})
}

func vecCosineImpl(_ *sqlitedriver.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_cosine: expected 2 arguments, got %d", len(args))
	}
	a, err := asEmbedding(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asEmbedding(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	return store.Cosine(a, b), nil
}

func asEmbedding(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(v)
	default:
		return nil, fmt.Errorf("vec_cosine: unsupported argument type %T, want BLOB", arg)
	}
}

// Store implements store.Store on SQLite.
type Store struct {
	db        *sql.DB
	mode      store.Mode
	dimension int
}

// Open opens (and bootstraps) a SQLite store. Pass ":memory:" for an
// in-memory database.
func Open(dsn string, mode store.Mode, dimension int) (*Store, error) {
	registerVecCosine()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// The modernc driver serializes writes per connection; a single
	// connection avoids SQLITE_BUSY on concurrent upserts.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, mode: mode, dimension: dimension}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap() error {
	ddl := `
CREATE TABLE IF NOT EXISTS proposals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlite bootstrap: %w", err)
	}
	if s.mode == store.ModeUpsert {
		if _, err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS proposals_key_idx ON proposals (key)`); err != nil {
			return fmt.Errorf("sqlite bootstrap: %w", err)
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
	err := s.db.QueryRowContext(ctx, `
INSERT INTO proposals (key, content, embedding) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
	content = excluded.content,
	embedding = excluded.embedding,
	updated_at = CURRENT_TIMESTAMP
RETURNING id`, key, content, encodeEmbedding(vec)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite upsert: %w", err)
	}
	return id, nil
}

func (s *Store) Insert(ctx context.Context, key, content string, vec []float32) (int64, error) {
	if err := store.CheckDimension(vec, s.dimension); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO proposals (key, content, embedding) VALUES (?, ?, ?) RETURNING id`,
		key, content, encodeEmbedding(vec)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite insert: %w", err)
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

	rows, err := s.db.QueryContext(ctx, `
SELECT key, vec_cosine(embedding, ?) AS sim
FROM proposals
WHERE ? = '' OR key <> ?
ORDER BY sim DESC, id ASC
LIMIT ?`, encodeEmbedding(vec), excludeKey, excludeKey, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite nearest: %w", err)
	}
	defer rows.Close()

	var out []store.Neighbor
	for rows.Next() {
		var n store.Neighbor
		if err := rows.Scan(&n.Key, &n.Similarity); err != nil {
			return nil, fmt.Errorf("sqlite nearest: %w", err)
		}
		n.Similarity = store.RoundSimilarity(n.Similarity)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite nearest: %w", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vec_cosine: invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
