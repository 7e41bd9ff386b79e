// Package decisionstore persists Decision records across two interchangeable
// backends: atomic on-disk YAML files and a SQLite database. Both implement
// the same Store contract so the lifecycle, retrieval, compaction, and
// analytics packages never know which backend is active.
package decisionstore

import (
	"context"
	"errors"

	"github.com/ashita-ai/cstpd/internal/model"
)

// ErrNotFound is returned when a decision id (or unique prefix) has no match.
var ErrNotFound = errors.New("decisionstore: not found")

// ErrAmbiguousPrefix is returned when an id prefix matches more than one
// decision.
var ErrAmbiguousPrefix = errors.New("decisionstore: ambiguous id prefix")

// Store is the structured persistence contract for the decision corpus.
type Store interface {
	// Put writes d atomically, creating or overwriting the record at d.ID.
	Put(ctx context.Context, d model.Decision) error

	// Get locates a decision by exact id or unique hex prefix.
	Get(ctx context.Context, idOrPrefix string) (model.Decision, error)

	// List returns decisions matching filter, ordered by Date descending,
	// capped at limit (limit <= 0 means no cap).
	List(ctx context.Context, filter model.QueryFilters, limit int) ([]model.Decision, error)

	// All returns the full corpus, used by BM25 indexing and analytics scans.
	All(ctx context.Context) ([]model.Decision, error)

	// Count returns the number of decisions in the corpus.
	Count(ctx context.Context) (int, error)
}

// MatchesFilter applies the shared QueryFilters taxonomy to a single
// decision. Both backends use this so filter semantics never drift between
// the YAML and SQLite implementations.
func MatchesFilter(d model.Decision, f model.QueryFilters) bool {
	if f.Category != nil && d.Category != *f.Category {
		return false
	}
	if f.Stakes != nil && d.Stakes != *f.Stakes {
		return false
	}
	if f.Status != nil && d.Status != *f.Status {
		return false
	}
	if f.MinConfidence != nil && d.Confidence < *f.MinConfidence {
		return false
	}
	if f.MaxConfidence != nil && d.Confidence > *f.MaxConfidence {
		return false
	}
	if f.DateAfter != nil && d.Date < *f.DateAfter {
		return false
	}
	if f.DateBefore != nil && d.Date > *f.DateBefore {
		return false
	}
	if f.Project != nil && (d.Project == nil || *d.Project != *f.Project) {
		return false
	}
	if f.Feature != nil && (d.Feature == nil || *d.Feature != *f.Feature) {
		return false
	}
	if f.PR != nil && (d.PR == nil || *d.PR != *f.PR) {
		return false
	}
	if f.HasOutcome != nil {
		has := d.Status == model.StatusReviewed
		if has != *f.HasOutcome {
			return false
		}
	}
	if len(f.Tags) > 0 {
		for _, want := range f.Tags {
			found := false
			for _, got := range d.Tags {
				if got == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}
