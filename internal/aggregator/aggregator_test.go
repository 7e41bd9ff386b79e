package aggregator

import (
	"context"
	"testing"

	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/retrieval"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*Aggregator, decisionstore.Store, vectorstore.Store, embedding.Provider) {
	t.Helper()
	store := decisionstore.NewYAMLStore(t.TempDir())
	vs := vectorstore.NewMemStore("test")
	emb := embedding.NewNoopProvider(32)
	engine := retrieval.NewEngine(store, vs, emb, nil)

	registry := guardrail.NewRegistry("", nil)
	require.NoError(t, registry.Load())

	breakers := breaker.NewManager("", "", nil)
	require.NoError(t, breakers.Initialize(context.Background()))

	return New(store, engine, registry, breakers, nil, nil), store, vs, emb
}

func seedReviewed(t *testing.T, ctx context.Context, store decisionstore.Store, vs vectorstore.Store, emb embedding.Provider, id string, cat model.Category, date string, confidence float64, outcome model.Outcome, pattern string) {
	t.Helper()
	d := model.Decision{
		ID: id, AgentID: "agent-1", Decision: "decision text for " + id,
		Category: cat, Stakes: model.StakesMedium, Confidence: confidence,
		Status: model.StatusReviewed, Outcome: outcome, Date: date, Pattern: pattern,
	}
	require.NoError(t, store.Put(ctx, d))
	vec, err := emb.Embed(ctx, d.Decision)
	require.NoError(t, err)
	require.NoError(t, vs.Upsert(ctx, id, vec, map[string]any{"category": string(cat)}))
}

func TestPreActionAllowsWithNoGuardrailsOrBreakers(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.8, model.OutcomeSuccess, "")

	result, err := agg.PreAction(ctx, PreActionRequest{ActionDescription: "decision text"}, "agent-1")
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.NotEmpty(t, result.Relevant)
}

func TestPreActionOmitsDetailFieldsUnlessRequested(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.8, model.OutcomeSuccess, "")

	result, err := agg.PreAction(ctx, PreActionRequest{ActionDescription: "decision text"}, "agent-1")
	require.NoError(t, err)
	require.NotEmpty(t, result.Relevant)
	require.Empty(t, result.Relevant[0].Lessons)
}

func TestSessionContextBuildsProfileFromReviewedDecisions(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.8, model.OutcomeSuccess, "")
	seedReviewed(t, ctx, store, vs, emb, "bbbbbbbb", model.CategoryArchitecture, "2026-01-10", 0.9, model.OutcomeSuccess, "")
	seedReviewed(t, ctx, store, vs, emb, "cccccccc", model.CategoryArchitecture, "2026-01-15", 0.6, model.OutcomeFailure, "")

	result, err := agg.SessionContext(ctx, SessionContextRequest{}, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, result.Profile)
	require.Equal(t, 3, result.Profile.Total)
	require.Equal(t, 3, result.Profile.Reviewed)
	require.Equal(t, "2026-01-01", result.Profile.ActiveSince)
}

func TestSessionContextProfileTendencyReflectsCalibrationGap(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	// High confidence, consistently wrong: overconfident, not underconfident.
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.9, model.OutcomeFailure, "")
	seedReviewed(t, ctx, store, vs, emb, "bbbbbbbb", model.CategoryArchitecture, "2026-01-02", 0.9, model.OutcomeFailure, "")

	result, err := agg.SessionContext(ctx, SessionContextRequest{}, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "overconfident", result.Profile.Tendency)
}

func TestSessionContextFiltersBySectionInclude(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.8, model.OutcomeSuccess, "")

	result, err := agg.SessionContext(ctx, SessionContextRequest{Include: []string{SectionProfile}}, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, result.Profile)
	require.Nil(t, result.Calibration)
	require.Nil(t, result.Ready)
}

func TestSessionContextConfirmedPatternsRequireTwoOccurrences(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.8, model.OutcomeSuccess, "retry-with-backoff")
	seedReviewed(t, ctx, store, vs, emb, "bbbbbbbb", model.CategoryArchitecture, "2026-01-05", 0.8, model.OutcomeSuccess, "retry-with-backoff")
	seedReviewed(t, ctx, store, vs, emb, "cccccccc", model.CategoryArchitecture, "2026-01-10", 0.8, model.OutcomeSuccess, "one-off-pattern")

	result, err := agg.SessionContext(ctx, SessionContextRequest{Include: []string{SectionPatterns}}, "agent-1")
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	require.Equal(t, "retry-with-backoff", result.Patterns[0].Pattern)
	require.Equal(t, 2, result.Patterns[0].Count)
}

func TestSessionContextRendersMarkdownWhenRequested(t *testing.T) {
	ctx := context.Background()
	agg, store, vs, emb := newTestAggregator(t)
	seedReviewed(t, ctx, store, vs, emb, "aaaaaaaa", model.CategoryArchitecture, "2026-01-01", 0.8, model.OutcomeSuccess, "")

	result, err := agg.SessionContext(ctx, SessionContextRequest{Markdown: true}, "agent-1")
	require.NoError(t, err)
	require.Contains(t, result.Markdown, "# Session Context")
	require.Contains(t, result.Markdown, "## Profile")
}
