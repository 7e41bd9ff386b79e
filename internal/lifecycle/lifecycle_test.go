package lifecycle

import (
	"context"
	"testing"

	"github.com/ashita-ai/cstpd/internal/bridge"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, decisionstore.Store, vectorstore.Store) {
	t.Helper()
	store := decisionstore.NewYAMLStore(t.TempDir())
	vs := vectorstore.NewMemStore("test")
	emb := embedding.NewNoopProvider(32)
	tracker := deliberation.NewTracker(0, 0, nil)
	resolver := bridge.NewResolver(bridge.ModeRule, nil, nil)
	g := graph.New("", func(context.Context, string) bool { return true }, nil)
	mgr := New(store, vs, emb, tracker, resolver, g, nil, nil)
	return mgr, store, vs
}

func validDecision() model.Decision {
	return model.Decision{
		Decision:   "adopt postgres for the catalog service",
		Context:    "need strong consistency across writes",
		Category:   model.CategoryArchitecture,
		Stakes:     model.StakesHigh,
		Confidence: 0.8,
		Reasons: []model.Reason{
			{Type: model.ReasonAnalysis, Text: "benchmarked under load", Strength: 0.9},
		},
	}
}

func TestRecordAssignsIDAndPersists(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)
	require.Len(t, result.Decision.ID, 8)
	require.Equal(t, "agent-1", result.Decision.AgentID)
	require.Equal(t, model.StatusPending, result.Decision.Status)
	require.True(t, result.Indexed)

	stored, err := store.Get(ctx, result.Decision.ID)
	require.NoError(t, err)
	require.Equal(t, "adopt postgres for the catalog service", stored.Decision)
}

func TestRecordRejectsInvalidConfidence(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	d := validDecision()
	d.Confidence = 1.5
	_, err := mgr.Record(ctx, d, "agent-1", "", nil)
	require.Error(t, err)
}

func TestRecordDerivesBridgeWhenAbsent(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)
	require.NotNil(t, result.Decision.Bridge)
}

func TestRecordIndexesIntoVectorStore(t *testing.T) {
	ctx := context.Background()
	mgr, _, vs := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)
	require.True(t, result.Indexed)

	hits, err := vs.Query(ctx, make([]float32, 32), 10, vectorstore.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestReviewUpdatesOutcomeAndPersists(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)

	reviewed, err := mgr.Review(ctx, result.Decision.ID, "reviewer-1", ReviewUpdate{
		Outcome:      model.OutcomeSuccess,
		ActualResult: "cut p99 latency by half",
		Lessons:      "postgres handled the load fine",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusReviewed, reviewed.Status)
	require.Equal(t, model.OutcomeSuccess, reviewed.Outcome)
	require.Equal(t, "reviewer-1", reviewed.ReviewedBy)

	stored, err := store.Get(ctx, result.Decision.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeSuccess, stored.Outcome)
}

func TestReviewRejectsInvalidOutcome(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)

	_, err = mgr.Review(ctx, result.Decision.ID, "reviewer-1", ReviewUpdate{Outcome: "bogus"})
	require.Error(t, err)
}

func TestReviewUnknownIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Review(ctx, "deadbeef", "reviewer-1", ReviewUpdate{Outcome: model.OutcomeSuccess})
	require.Error(t, err)
}

func TestGetReturnsStoredDecision(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)

	got, err := mgr.Get(ctx, result.Decision.ID)
	require.NoError(t, err)
	require.Equal(t, result.Decision.ID, got.ID)
}

func TestUpdateShallowMergesAllowedFields(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)

	updated, err := mgr.Update(ctx, result.Decision.ID, map[string]any{
		"context":       "revised after incident review",
		"tags":          []any{"db", "incident"},
		"pr":            float64(42),
		"decision":      "this key is not in the allowlist",
		"bogusfieldxyz": "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, "revised after incident review", updated.Context)
	require.Equal(t, []string{"db", "incident"}, updated.Tags)
	require.NotNil(t, updated.PR)
	require.Equal(t, 42, *updated.PR)
	require.Equal(t, "adopt postgres for the catalog service", updated.Decision)
}

func TestAppendThoughtAddsSequentialStep(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)

	updated, err := mgr.AppendThought(ctx, result.Decision.ID, "reconsidered after load test")
	require.NoError(t, err)
	require.NotNil(t, updated.Deliberation)
	require.Len(t, updated.Deliberation.Steps, 1)
	require.Equal(t, 1, updated.Deliberation.Steps[0].Step)

	updated, err = mgr.AppendThought(ctx, updated.ID, "second thought")
	require.NoError(t, err)
	require.Len(t, updated.Deliberation.Steps, 2)
	require.Equal(t, 2, updated.Deliberation.Steps[1].Step)
}

func TestRecordDegradesGracefullyWithNoVectorStore(t *testing.T) {
	ctx := context.Background()
	store := decisionstore.NewYAMLStore(t.TempDir())
	mgr := New(store, nil, nil, nil, nil, nil, nil, nil)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", "", nil)
	require.NoError(t, err)
	require.False(t, result.Indexed)
}

func TestRecordConsumesDeliberationScope(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	scope := deliberation.ScopeKey("transport-1", "agent-1", "")
	mgr.tracker.TrackQuery(scope, "db options for the catalog service", 2, []string{"aaaaaaaa"}, "hybrid", nil)

	result, err := mgr.Record(ctx, validDecision(), "agent-1", scope, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Decision.Deliberation)
	require.NotEmpty(t, result.Decision.Deliberation.Inputs)
}
