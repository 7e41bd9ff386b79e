// Package retrieval implements cstp.queryDecisions: semantic, keyword, and
// hybrid modes over the decision corpus, sharing one filter/metadata
// translation with the vector store.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/ashita-ai/cstpd/internal/bm25"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

// Leveler computes a compaction level for a decision, letting retrieval
// annotate/exclude wisdom-level hits without importing internal/compaction
// directly (compaction depends on retrieval's filter helpers, not the
// reverse).
type Leveler interface {
	Level(d model.Decision) string
}

const wisdomLevel = "wisdom"

// Engine wires the decision store, vector store, embedding provider, and
// BM25 cache into the three retrieval modes.
type Engine struct {
	decisions decisionstore.Store
	vectors   vectorstore.Store
	embedder  embedding.Provider
	bm25Cache *bm25.Cache
	leveler   Leveler
}

// NewEngine constructs a retrieval engine. leveler may be nil, in which
// case compaction annotation is skipped even when requested.
func NewEngine(decisions decisionstore.Store, vectors vectorstore.Store, embedder embedding.Provider, leveler Leveler) *Engine {
	return &Engine{
		decisions: decisions,
		vectors:   vectors,
		embedder:  embedder,
		bm25Cache: bm25.NewCache(),
		leveler:   leveler,
	}
}

// Query executes req (already Normalize()-d by the caller) and returns
// scored hits.
func (e *Engine) Query(ctx context.Context, req model.QueryDecisionsRequest) ([]model.ScoredDecision, error) {
	if req.Query == "" {
		return e.listAll(ctx, req)
	}

	switch req.RetrievalMode {
	case model.RetrievalKeyword:
		return e.keyword(ctx, req)
	case model.RetrievalHybrid:
		return e.hybrid(ctx, req)
	default:
		return e.semantic(ctx, req)
	}
}

// listAll handles the empty-query "list all under filters" mode, ordered
// by creation date descending.
func (e *Engine) listAll(ctx context.Context, req model.QueryDecisionsRequest) ([]model.ScoredDecision, error) {
	decisions, err := e.decisions.List(ctx, req.Filters, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: list all: %w", err)
	}
	out := make([]model.ScoredDecision, 0, len(decisions))
	for _, d := range decisions {
		if e.excludedByCompaction(req, d) {
			continue
		}
		out = append(out, model.ScoredDecision{Decision: d})
	}
	return out, nil
}

func (e *Engine) excludedByCompaction(req model.QueryDecisionsRequest, d model.Decision) bool {
	if !req.Compacted || e.leveler == nil {
		return false
	}
	return e.leveler.Level(d) == wisdomLevel
}

func (e *Engine) semantic(ctx context.Context, req model.QueryDecisionsRequest) ([]model.ScoredDecision, error) {
	hits, err := e.semanticHits(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoredDecision, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.ScoredDecision{Decision: h.decision, Score: model.ScoreTriple{Semantic: h.score}})
	}
	return out, nil
}

type scoredHit struct {
	decision model.Decision
	score    float64
}

// semanticHits embeds the (bridge-side-prefixed) query, runs a where-clause
// vector query, and resolves each match id back to a full Decision.
func (e *Engine) semanticHits(ctx context.Context, req model.QueryDecisionsRequest, n int) ([]scoredHit, error) {
	vec, err := e.embedder.Embed(ctx, req.EffectiveQuery())
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	where := BuildWhere(req.Filters)
	matches, err := e.vectors.Query(ctx, vec, n, where)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector query: %w", err)
	}

	hits := make([]scoredHit, 0, len(matches))
	for _, m := range matches {
		d, err := e.decisions.Get(ctx, m.ID)
		if err != nil {
			continue // stale vector-store entry with no backing decision record
		}
		if e.excludedByCompaction(req, d) {
			continue
		}
		hits = append(hits, scoredHit{decision: d, score: m.Score})
	}
	return hits, nil
}

func (e *Engine) keyword(ctx context.Context, req model.QueryDecisionsRequest) ([]model.ScoredDecision, error) {
	hits, _, err := e.keywordHits(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoredDecision, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.ScoredDecision{Decision: h.decision, Score: model.ScoreTriple{Keyword: h.score}})
	}
	return out, nil
}

// keywordHits tokenizes and BM25-scores the filtered corpus, returning the
// top-n hits with min-max normalized scores and the normalized score map
// keyed by decision id.
func (e *Engine) keywordHits(ctx context.Context, req model.QueryDecisionsRequest, n int) ([]scoredHit, map[string]float64, error) {
	all, err := e.decisions.All(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieval: load corpus: %w", err)
	}

	filtered := make([]model.Decision, 0, len(all))
	byID := make(map[string]model.Decision, len(all))
	for _, d := range all {
		if !decisionstore.MatchesFilter(d, req.Filters) {
			continue
		}
		filtered = append(filtered, d)
		byID[d.ID] = d
	}

	index := e.bm25Cache.Get(filtered)
	results := index.Search(req.Query, n)
	normalized := bm25.NormalizeScores(results)

	hits := make([]scoredHit, 0, len(results))
	for _, r := range results {
		d, ok := byID[r.DocID]
		if !ok {
			continue
		}
		if e.excludedByCompaction(req, d) {
			continue
		}
		hits = append(hits, scoredHit{decision: d, score: normalized[r.DocID]})
	}
	return hits, normalized, nil
}

const hybridFetchMultiplier = 2

func (e *Engine) hybrid(ctx context.Context, req model.QueryDecisionsRequest) ([]model.ScoredDecision, error) {
	fetchN := req.Limit * hybridFetchMultiplier

	semanticHits, err := e.semanticHits(ctx, req, fetchN)
	if err != nil {
		return nil, err
	}
	keywordHits, _, err := e.keywordHits(ctx, req, fetchN)
	if err != nil {
		return nil, err
	}

	semScores := normalizeHitScores(semanticHits)

	byID := make(map[string]model.Decision)
	semByID := make(map[string]float64)
	keyByID := make(map[string]float64)

	for _, h := range semanticHits {
		byID[h.decision.ID] = h.decision
		semByID[h.decision.ID] = semScores[h.decision.ID]
	}
	for _, h := range keywordHits {
		byID[h.decision.ID] = h.decision
		keyByID[h.decision.ID] = h.score
	}

	w := req.HybridWeight
	merged := make([]model.ScoredDecision, 0, len(byID))
	for id, d := range byID {
		sem := semByID[id]
		key := keyByID[id]
		combined := w*sem + (1-w)*key
		merged = append(merged, model.ScoredDecision{
			Decision: d,
			Score:    model.ScoreTriple{Semantic: sem, Keyword: key, Combined: combined},
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score.Combined > merged[j].Score.Combined
	})
	if req.Limit > 0 && len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}
	return merged, nil
}

// normalizeHitScores min-max normalizes semantic distances to [0,1]. Unlike
// BM25's descending-is-better scores, vector distance is ascending (closer
// = better), so the normalization inverts: the closest match gets 1.0.
func normalizeHitScores(hits []scoredHit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	min, max := hits[0].score, hits[0].score
	for _, h := range hits {
		if h.score < min {
			min = h.score
		}
		if h.score > max {
			max = h.score
		}
	}
	rng := max - min
	for _, h := range hits {
		if rng == 0 {
			out[h.decision.ID] = 1.0
			continue
		}
		out[h.decision.ID] = 1.0 - (h.score-min)/rng
	}
	return out
}

// InvalidateKeywordCache forces the next keyword/hybrid query to rebuild
// the BM25 index; the dispatcher's cstp.reindex handler calls it.
func (e *Engine) InvalidateKeywordCache() {
	e.bm25Cache.Invalidate()
}
