package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

func seedDecision(t *testing.T, ctx context.Context, store decisionstore.Store, vs vectorstore.Store, emb embedding.Provider, id, date, summary, decisionText string) model.Decision {
	t.Helper()
	d := model.Decision{
		ID: id, AgentID: "agent-1", Summary: summary, Decision: decisionText,
		Category: model.CategoryArchitecture, Stakes: model.StakesMedium,
		Confidence: 0.8, Status: model.StatusPending, Date: date,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Put(ctx, d))

	text := summary + " " + decisionText
	vec, err := emb.Embed(ctx, text)
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, id, vec, Metadata(d, "")))
	return d
}

func newTestEngine(t *testing.T) (*Engine, decisionstore.Store, vectorstore.Store, embedding.Provider) {
	t.Helper()
	store := decisionstore.NewYAMLStore(t.TempDir())
	vs := vectorstore.NewMemStore("test")
	emb := embedding.NewNoopProvider(64)
	return NewEngine(store, vs, emb, nil), store, vs, emb
}

func TestListAllEmptyQueryOrdersByDateDescending(t *testing.T) {
	ctx := context.Background()
	engine, store, vs, emb := newTestEngine(t)

	seedDecision(t, ctx, store, vs, emb, "aaaaaaaa", "2026-01-01", "old", "use postgres")
	seedDecision(t, ctx, store, vs, emb, "bbbbbbbb", "2026-03-01", "new", "use redis")

	req := model.QueryDecisionsRequest{Limit: 10}
	req.Normalize()
	results, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "bbbbbbbb", results[0].Decision.ID)
	require.Equal(t, "aaaaaaaa", results[1].Decision.ID)
}

func TestSemanticQueryRanksExactTextMatchFirst(t *testing.T) {
	ctx := context.Background()
	engine, store, vs, emb := newTestEngine(t)

	seedDecision(t, ctx, store, vs, emb, "aaaaaaaa", "2026-01-01", "migrate to kafka", "adopt kafka for event streaming")
	seedDecision(t, ctx, store, vs, emb, "bbbbbbbb", "2026-01-02", "unrelated topic", "switch ci provider")

	req := model.QueryDecisionsRequest{Query: "migrate to kafka adopt kafka for event streaming", RetrievalMode: model.RetrievalSemantic, Limit: 10}
	req.Normalize()

	results, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "aaaaaaaa", results[0].Decision.ID)
	require.InDelta(t, 0, results[0].Score.Semantic, 1e-9)
}

func TestKeywordQueryRanksByBM25(t *testing.T) {
	ctx := context.Background()
	engine, store, vs, emb := newTestEngine(t)

	seedDecision(t, ctx, store, vs, emb, "aaaaaaaa", "2026-01-01", "retry strategy", "use exponential backoff for retries")
	seedDecision(t, ctx, store, vs, emb, "bbbbbbbb", "2026-01-02", "logging format", "adopt structured json logging")

	req := model.QueryDecisionsRequest{Query: "retry backoff", RetrievalMode: model.RetrievalKeyword, Limit: 10}
	req.Normalize()

	results, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "aaaaaaaa", results[0].Decision.ID)
	require.Greater(t, results[0].Score.Keyword, 0.0)
}

func TestHybridQueryCombinesScores(t *testing.T) {
	ctx := context.Background()
	engine, store, vs, emb := newTestEngine(t)

	seedDecision(t, ctx, store, vs, emb, "aaaaaaaa", "2026-01-01", "retry strategy", "use exponential backoff for retries")
	seedDecision(t, ctx, store, vs, emb, "bbbbbbbb", "2026-01-02", "logging format", "adopt structured json logging")

	req := model.QueryDecisionsRequest{Query: "use exponential backoff for retries", RetrievalMode: model.RetrievalHybrid, Limit: 10}
	req.Normalize()

	results, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "aaaaaaaa", results[0].Decision.ID)
	require.Greater(t, results[0].Score.Combined, 0.0)
}

func TestBuildWhereAppliesCategoryAndTags(t *testing.T) {
	cat := model.CategorySecurity
	f := model.QueryFilters{Category: &cat, Tags: []string{"pci", "audit"}}
	where := BuildWhere(f)
	require.Equal(t, "security", where["category"])
	require.Contains(t, where, "$and")
}

type stubLeveler struct{ level string }

func (s stubLeveler) Level(model.Decision) string { return s.level }

func TestCompactedQueryExcludesWisdomLevelHits(t *testing.T) {
	ctx := context.Background()
	store := decisionstore.NewYAMLStore(t.TempDir())
	vs := vectorstore.NewMemStore("test")
	emb := embedding.NewNoopProvider(64)
	engine := NewEngine(store, vs, emb, stubLeveler{level: "wisdom"})

	seedDecision(t, ctx, store, vs, emb, "aaaaaaaa", "2020-01-01", "ancient", "decision text")

	req := model.QueryDecisionsRequest{Limit: 10, Compacted: true}
	req.Normalize()
	results, err := engine.Query(ctx, req)
	require.NoError(t, err)
	require.Empty(t, results)
}
