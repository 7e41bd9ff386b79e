package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// point is one stored vector plus its metadata.
type point struct {
	id        string
	embedding []float32
	metadata  map[string]any
}

// MemStore is an in-memory Store backed by brute-force cosine distance. It
// exists for tests and for deployments with no external vector database
// (the "memory" vector.backend config value).
type MemStore struct {
	mu         sync.RWMutex
	points     map[string]point
	collection string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(collection string) *MemStore {
	return &MemStore{points: make(map[string]point), collection: collection}
}

// Initialize is a no-op; the in-memory store needs no setup.
func (m *MemStore) Initialize(_ context.Context) error { return nil }

// Upsert inserts or replaces a point.
func (m *MemStore) Upsert(_ context.Context, id string, embedding []float32, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = point{id: id, embedding: embedding, metadata: metadata}
	return nil
}

// Query returns the n nearest points (by cosine distance, ascending) whose
// metadata matches where.
func (m *MemStore) Query(_ context.Context, embedding []float32, n int, where Filter) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.points))
	for _, p := range m.points {
		if where != nil && !Matches(p.metadata, where) {
			continue
		}
		matches = append(matches, Match{
			ID:       p.id,
			Score:    cosineDistance(embedding, p.embedding),
			Metadata: p.metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	if n > 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// Delete removes points by id.
func (m *MemStore) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// Count returns the number of stored points.
func (m *MemStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points), nil
}

// Reset drops all points.
func (m *MemStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]point)
	return nil
}

// CollectionID returns the configured collection name.
func (m *MemStore) CollectionID() string { return m.collection }

// cosineDistance returns 1 - cosine_similarity, so smaller is more similar
// (consistent with Qdrant's ascending-distance ordering used elsewhere).
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return math.MaxFloat64
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - similarity
}
