package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/knovalab/knova/internal/kberr"
)

// PGVectorConfig configures the relational backend.
type PGVectorConfig struct {
	// DSN is the PostgreSQL connection string. Required.
	DSN string

	// Collection names the table for this knowledge base. Required;
	// lowercase letters, digits, and underscores only.
	Collection string

	// Dimensions is the embedding dimensionality. Required.
	Dimensions int

	// MinConns and MaxConns bound the connection pool. Zero keeps the
	// pgx default.
	MinConns int32
	MaxConns int32
}

// collectionPattern constrains table names built from collection ids.
var collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PGVectorBackend is the relational VectorBackend: one table per
// collection on PostgreSQL with the pgvector extension. Vector search
// uses the cosine operator, keyword search uses full-text ranking, and
// metadata filters map onto jsonb containment.
type PGVectorBackend struct {
	cfg  PGVectorConfig
	pool *pgxpool.Pool
}

// NewPGVectorBackend creates a relational backend. Call Initialize
// before use.
func NewPGVectorBackend(cfg PGVectorConfig) (*PGVectorBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if !collectionPattern.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("invalid collection name %q", cfg.Collection)
	}
	return &PGVectorBackend{cfg: cfg}, nil
}

// Initialize connects the pool and ensures the extension, table, and
// indexes exist.
func (b *PGVectorBackend) Initialize(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(b.cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	if b.cfg.MinConns > 0 {
		poolCfg.MinConns = b.cfg.MinConns
	}
	if b.cfg.MaxConns > 0 {
		poolCfg.MaxConns = b.cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	embedding vector(%[2]d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx
	ON %[1]s USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS %[1]s_tsv_idx
	ON %[1]s USING gin (tsv);

CREATE INDEX IF NOT EXISTS %[1]s_metadata_idx
	ON %[1]s USING gin (metadata);
`, b.cfg.Collection, b.cfg.Dimensions)

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return fmt.Errorf("ensure schema: %w", err)
	}

	b.pool = pool
	return nil
}

// AddDocuments upserts documents in one transaction.
func (b *PGVectorBackend) AddDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := b.ready(); err != nil {
		return err
	}
	for _, doc := range docs {
		if len(doc.Embedding) != b.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: b.cfg.Dimensions, Got: len(doc.Embedding)}
		}
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
INSERT INTO %s (id, content, embedding, metadata)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
	embedding = EXCLUDED.embedding,
	metadata = EXCLUDED.metadata`, b.cfg.Collection)

	for _, doc := range docs {
		meta, err := json.Marshal(orEmptyMetadata(doc.Metadata))
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", doc.ID, err)
		}
		if _, err := tx.Exec(ctx, stmt, doc.ID, doc.Text, pgvector.NewVector(doc.Embedding), meta); err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// QueryVector returns the nearest documents by cosine similarity.
func (b *PGVectorBackend) QueryVector(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]*SearchResult, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	if len(embedding) != b.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: b.cfg.Dimensions, Got: len(embedding)}
	}
	if topK <= 0 {
		return []*SearchResult{}, nil
	}

	where, args := filterClause(filter, 2)
	query := fmt.Sprintf(`
SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
FROM %s
%s
ORDER BY embedding <=> $1
LIMIT %d`, b.cfg.Collection, where, topK)

	rows, err := b.pool.Query(ctx, query, append([]any{pgvector.NewVector(embedding)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	return scanResults(rows)
}

// QueryKeyword returns the best full-text matches.
func (b *PGVectorBackend) QueryKeyword(ctx context.Context, query string, topK int, filter map[string]string) ([]*SearchResult, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return []*SearchResult{}, nil
	}

	where, args := filterClause(filter, 2)
	if where == "" {
		where = "WHERE tsv @@ plainto_tsquery('english', $1)"
	} else {
		where += " AND tsv @@ plainto_tsquery('english', $1)"
	}
	stmt := fmt.Sprintf(`
SELECT id, content, metadata, ts_rank(tsv, plainto_tsquery('english', $1)) AS score
FROM %s
%s
ORDER BY score DESC, id
LIMIT %d`, b.cfg.Collection, where, topK)

	rows, err := b.pool.Query(ctx, stmt, append([]any{query}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	return scanResults(rows)
}

// FetchEmbeddings returns stored embeddings for the given ids.
func (b *PGVectorBackend) FetchEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}

	stmt := fmt.Sprintf(`SELECT id, embedding FROM %s WHERE id = ANY($1)`, b.cfg.Collection)
	rows, err := b.pool.Query(ctx, stmt, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(ids))
	for rows.Next() {
		var id string
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// DeleteDocuments removes documents by id and/or metadata filter.
func (b *PGVectorBackend) DeleteDocuments(ctx context.Context, ids []string, filter map[string]string) (int, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	if len(ids) == 0 && len(filter) == 0 {
		return 0, kberr.New(kberr.KindInvalidArgument, "delete needs ids or a filter")
	}

	var conditions []string
	var args []any
	if len(ids) > 0 {
		args = append(args, ids)
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if len(filter) > 0 {
		meta, err := json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("marshal filter: %w", err)
		}
		args = append(args, meta)
		conditions = append(conditions, fmt.Sprintf("metadata @> $%d::jsonb", len(args)))
	}

	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s`, b.cfg.Collection, strings.Join(conditions, " AND "))
	tag, err := b.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats returns the document count.
func (b *PGVectorBackend) Stats(ctx context.Context) (*Stats, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	var count int
	stmt := fmt.Sprintf(`SELECT count(*) FROM %s`, b.cfg.Collection)
	if err := b.pool.QueryRow(ctx, stmt).Scan(&count); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	return &Stats{Documents: count, IndexNodes: count}, nil
}

// Health pings the database.
func (b *PGVectorBackend) Health(ctx context.Context) Health {
	if b.pool == nil {
		return Health{Detail: "not initialized"}
	}
	start := time.Now()
	if err := b.pool.Ping(ctx); err != nil {
		return Health{Detail: err.Error(), Latency: time.Since(start)}
	}
	return Health{Healthy: true, Detail: "database reachable", Latency: time.Since(start)}
}

// Close releases the pool.
func (b *PGVectorBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}

func (b *PGVectorBackend) ready() error {
	if b.pool == nil {
		return kberr.New(kberr.KindNotReady, "backend not initialized")
	}
	return nil
}

// filterClause builds a jsonb containment WHERE clause for a metadata
// filter. firstArg is the 1-based index the filter argument will take.
func filterClause(filter map[string]string, firstArg int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	meta, err := json.Marshal(filter)
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf("WHERE metadata @> $%d::jsonb", firstArg), []any{meta}
}

// scanResults drains a (id, content, metadata, score) row set.
func scanResults(rows pgx.Rows) ([]*SearchResult, error) {
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	if results == nil {
		results = []*SearchResult{}
	}
	return results, nil
}

// orEmptyMetadata substitutes an empty map for nil so jsonb columns
// never hold SQL NULL.
func orEmptyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ VectorBackend = (*PGVectorBackend)(nil)
