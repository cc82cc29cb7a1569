// Package vectorstore keeps indexed message points in a Postgres table with a
// pgvector embedding column.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Payload is the searchable metadata stored with every point.
type Payload struct {
	ConversationID string     `json:"conversation_id"`
	Role           string     `json:"role"`
	Text           string     `json:"text"`
	Timestamp      *time.Time `json:"timestamp"`
	MessageID      string     `json:"message_id"`
	Model          string     `json:"model"`
	ExchangeIndex  int        `json:"exchange_index"`
	Provider       string     `json:"provider"`
	ContentHash    string     `json:"content_hash"`
}

// Point is one embedded message.
type Point struct {
	ID          uuid.UUID
	ContentHash string
	Vector      []float32
	Payload     Payload
}

// Match is a search hit; Score is cosine similarity.
type Match struct {
	ID      uuid.UUID `json:"id"`
	Score   float64   `json:"score"`
	Payload Payload   `json:"payload"`
}

var validCollection = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,50}$`)

type Store struct {
	pool  *pgxpool.Pool
	table string
	ident string
	dim   int
}

// New connects to databaseURL. collection names the point table.
func New(ctx context.Context, databaseURL, collection string, dim int) (*Store, error) {
	s, err := newStore(collection, dim)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.pool = pool
	return s, nil
}

func newStore(collection string, dim int) (*Store, error) {
	if !validCollection.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dim)
	}
	return &Store{
		table: collection,
		ident: pgx.Identifier{collection}.Sanitize(),
		dim:   dim,
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureCollection creates the point table and its indexes if absent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			content_hash text NOT NULL,
			embedding vector(%d) NOT NULL,
			payload jsonb NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, s.ident, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (content_hash)`,
			pgx.Identifier{s.table + "_content_hash_idx"}.Sanitize(), s.ident),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{s.table + "_embedding_idx"}.Sanitize(), s.ident),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure collection %s: %w", s.table, err)
		}
	}
	return nil
}

// Identity names the physical table behind the collection as
// "<database>.<table oid>". It changes when the table is recreated or the
// store points at another database.
func (s *Store) Identity(ctx context.Context) (string, error) {
	var db string
	var oid uint32
	err := s.pool.QueryRow(ctx, `SELECT current_database(), to_regclass($1)::oid`, s.ident).Scan(&db, &oid)
	if err != nil {
		return "", fmt.Errorf("collection identity %s: %w", s.table, err)
	}
	return fmt.Sprintf("%s.%d", db, oid), nil
}

// ExistsByHash reports whether any point carries the content hash.
func (s *Store) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE content_hash = $1 LIMIT 1)`, s.ident)
	if err := s.pool.QueryRow(ctx, q, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	return exists, nil
}

// Upsert writes all points in one transaction, replacing points with the
// same id. An empty slice is a no-op.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if len(p.Vector) != s.dim {
			return fmt.Errorf("point %s: vector has %d dimensions, collection expects %d", p.ID, len(p.Vector), s.dim)
		}
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, content_hash, embedding, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload`, s.ident)

	batch := &pgx.Batch{}
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		batch.Queue(q, p.ID, p.ContentHash, pgvector.NewVector(p.Vector), payload)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for _, p := range points {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return tx.Commit(ctx)
}

// Search returns the k points closest to vector by cosine distance.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM %s ORDER BY embedding <=> $1 LIMIT $2`, s.ident)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var payload []byte
		if err := rows.Scan(&m.ID, &payload, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of stored points.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.ident)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}
