package decisionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/ashita-ai/cstpd/internal/model"
)

// SQLiteStore persists decisions as JSON blobs in a single table, with a
// handful of denormalized columns (category, stakes, status, confidence,
// date, project) so List can push the cheap filters down to SQL before
// falling back to MatchesFilter for the rest.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; avoid lock contention
	return &SQLiteStore{db: db}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	stakes TEXT NOT NULL,
	status TEXT NOT NULL,
	confidence REAL NOT NULL,
	date TEXT NOT NULL,
	project TEXT,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_date_idx ON decisions(date);
CREATE INDEX IF NOT EXISTS decisions_category_idx ON decisions(category);
`

// Initialize creates the schema if it does not already exist.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("decisionstore: create schema: %w", err)
	}
	return nil
}

// Put inserts or replaces the row for d.ID.
func (s *SQLiteStore) Put(ctx context.Context, d model.Decision) error {
	blob, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decisionstore: marshal decision %q: %w", d.ID, err)
	}

	var project any
	if d.Project != nil {
		project = *d.Project
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, category, stakes, status, confidence, date, project, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			stakes = excluded.stakes,
			status = excluded.status,
			confidence = excluded.confidence,
			date = excluded.date,
			project = excluded.project,
			data = excluded.data
	`, d.ID, string(d.Category), string(d.Stakes), string(d.Status), d.Confidence, d.Date, project, blob)
	if err != nil {
		return fmt.Errorf("decisionstore: upsert %q: %w", d.ID, err)
	}
	return nil
}

func scanDecision(row interface{ Scan(...any) error }) (model.Decision, error) {
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("decisionstore: scan row: %w", err)
	}
	var d model.Decision
	if err := json.Unmarshal(blob, &d); err != nil {
		return model.Decision{}, fmt.Errorf("decisionstore: unmarshal row: %w", err)
	}
	return d, nil
}

// Get locates a decision by exact id or unique hex prefix.
func (s *SQLiteStore) Get(ctx context.Context, idOrPrefix string) (model.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM decisions WHERE id = ?`, idOrPrefix)
	if d, err := scanDecision(row); err == nil {
		return d, nil
	} else if err != ErrNotFound {
		return model.Decision{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM decisions WHERE id LIKE ? || '%'`, idOrPrefix)
	if err != nil {
		return model.Decision{}, fmt.Errorf("decisionstore: prefix query: %w", err)
	}
	defer rows.Close()

	var matches []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return model.Decision{}, err
		}
		matches = append(matches, d)
	}
	if err := rows.Err(); err != nil {
		return model.Decision{}, err
	}

	switch len(matches) {
	case 0:
		return model.Decision{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return model.Decision{}, ErrAmbiguousPrefix
	}
}

// All returns every decision in the table, unordered.
func (s *SQLiteStore) All(ctx context.Context) ([]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: select all: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// List pushes category/stakes/status/date-range/project down to SQL, then
// applies the rest of the shared filter taxonomy (confidence bounds, tags,
// PR, feature, has-outcome) client-side for a single consistent semantics
// with the YAML backend.
func (s *SQLiteStore) List(ctx context.Context, filter model.QueryFilters, limit int) ([]model.Decision, error) {
	var where []string
	var args []any

	if filter.Category != nil {
		where = append(where, "category = ?")
		args = append(args, string(*filter.Category))
	}
	if filter.Stakes != nil {
		where = append(where, "stakes = ?")
		args = append(args, string(*filter.Stakes))
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.DateAfter != nil {
		where = append(where, "date >= ?")
		args = append(args, *filter.DateAfter)
	}
	if filter.DateBefore != nil {
		where = append(where, "date <= ?")
		args = append(args, *filter.DateBefore)
	}
	if filter.Project != nil {
		where = append(where, "project = ?")
		args = append(args, *filter.Project)
	}

	q := `SELECT data FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("decisionstore: list query: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		if MatchesFilter(d, filter) {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of rows in the table.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM decisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("decisionstore: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
