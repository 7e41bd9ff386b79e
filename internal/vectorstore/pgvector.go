package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore implements Store on top of Postgres with the pgvector
// extension. Metadata is stored as a JSONB column; the shared Filter
// language is evaluated client-side (post-filter) in Query.
type PgVectorStore struct {
	pool       *pgxpool.Pool
	table      string
	collection string
	dims       int
}

// NewPgVectorStore connects to Postgres via dsn and targets the given table
// (created by EnsureSchema if absent).
func NewPgVectorStore(ctx context.Context, dsn, table, collection string, dims int) (*PgVectorStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to postgres: %w", err)
	}
	return &PgVectorStore{pool: pool, table: table, collection: collection, dims: dims}, nil
}

// Initialize creates the pgvector extension, table, and ANN index if absent.
func (p *PgVectorStore) Initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("vectorstore: create vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, p.table, p.dims)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: create table %q: %w", p.table, err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s
		USING hnsw (embedding vector_cosine_ops)`, p.table, p.table)
	if _, err := p.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("vectorstore: create hnsw index: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a row.
func (p *PgVectorStore) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal metadata: %w", err)
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`, p.table)
	_, err = p.pool.Exec(ctx, q, id, pgvector.NewVector(embedding), blob)
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %q: %w", id, err)
	}
	return nil
}

// Query fetches the n nearest rows by cosine distance among rows matching
// where. Filter evaluation happens client-side against the JSONB metadata
// after an over-fetch, keeping the SQL simple and the filter semantics
// identical across all three Store backends.
func (p *PgVectorStore) Query(ctx context.Context, embedding []float32, n int, where Filter) ([]Match, error) {
	fetch := n * 4
	if fetch < 50 {
		fetch = 50
	}

	q := fmt.Sprintf(`SELECT id, metadata, embedding <=> $1 AS distance FROM %s ORDER BY distance ASC LIMIT $2`, p.table)
	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(embedding), fetch)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id string
		var metaBlob []byte
		var distance float64
		if err := rows.Scan(&id, &metaBlob, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore: scan row: %w", err)
		}
		var metadata map[string]any
		if err := json.Unmarshal(metaBlob, &metadata); err != nil {
			return nil, fmt.Errorf("vectorstore: unmarshal metadata for %q: %w", id, err)
		}
		if where != nil && !Matches(metadata, where) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: distance, Metadata: metadata})
		if len(matches) >= n {
			break
		}
	}
	return matches, rows.Err()
}

// Delete removes rows by id.
func (p *PgVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table)
	_, err := p.pool.Exec(ctx, q, ids)
	if err != nil {
		return fmt.Errorf("vectorstore: delete %d rows: %w", len(ids), err)
	}
	return nil
}

// Count returns the number of rows in the table.
func (p *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	q := fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)
	if err := p.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// Reset truncates the table.
func (p *PgVectorStore) Reset(ctx context.Context) error {
	q := fmt.Sprintf(`TRUNCATE TABLE %s`, p.table)
	if _, err := p.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("vectorstore: truncate: %w", err)
	}
	return nil
}

// CollectionID returns the configured logical collection name (the table
// itself may be shared across collections in a future multi-collection
// deployment; today it is a 1:1 mapping).
func (p *PgVectorStore) CollectionID() string { return p.collection }

// Close releases the connection pool.
func (p *PgVectorStore) Close() { p.pool.Close() }
