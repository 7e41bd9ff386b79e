package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/cstperr"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/lifecycle"
	"github.com/ashita-ai/cstpd/internal/model"
	"github.com/ashita-ai/cstpd/internal/retrieval"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := decisionstore.NewYAMLStore(t.TempDir())
	vs := vectorstore.NewMemStore("test")
	emb := embedding.NewNoopProvider(32)
	engine := retrieval.NewEngine(store, vs, emb, nil)

	registry := guardrail.NewRegistry("", nil)
	require.NoError(t, registry.Load())

	breakers := breaker.NewManager("", "", nil)
	require.NoError(t, breakers.Initialize(context.Background()))

	tracker := deliberation.NewTracker(0, 0, nil)
	g := graph.New("", func(ctx context.Context, id string) bool {
		_, err := store.Get(ctx, id)
		return err == nil
	}, nil)
	lc := lifecycle.New(store, vs, emb, tracker, nil, g, breakers, nil)

	return New(Deps{
		Decisions: store, Retrieval: engine, Guardrails: registry,
		Breakers: breakers, Tracker: tracker, Lifecycle: lc, Graph: g,
	})
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, rpcErr := d.Dispatch(context.Background(), "cstp.doesNotExist", nil, "agent-1")
	require.NotNil(t, rpcErr)
	require.Equal(t, cstperr.CodeMethodNotFound, rpcErr.Code)
	methods, ok := rpcErr.Data["methods"].([]string)
	require.True(t, ok, "expected error data to carry the known method list, got %+v", rpcErr.Data)
	require.Equal(t, d.Methods(), methods)
}

func TestDispatchMalformedParamsReturnsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	_, rpcErr := d.Dispatch(context.Background(), "cstp.getDecision", json.RawMessage(`{not json`), "agent-1")
	require.NotNil(t, rpcErr)
	require.Equal(t, cstperr.CodeInvalidParams, rpcErr.Code)
}

func TestMethodsListsEveryRegisteredMethodSorted(t *testing.T) {
	d := newTestDispatcher(t)
	names := d.Methods()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		require.Less(t, names[i-1], names[i])
	}
	require.Contains(t, names, "cstp.recordDecision")
	require.Contains(t, names, "cstp.getReasonStats")
}

func TestRecordGetReviewDecisionRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	recordParams, err := json.Marshal(map[string]any{
		"decision": "adopt postgres for the decision store",
		"category": "architecture",
		"stakes":   "medium",
	})
	require.NoError(t, err)

	result, rpcErr := d.Dispatch(ctx, "cstp.recordDecision", recordParams, "agent-1")
	require.Nil(t, rpcErr)
	recorded, ok := result.(lifecycle.RecordResult)
	require.True(t, ok)
	require.NotEmpty(t, recorded.Decision.ID)

	getParams, _ := json.Marshal(map[string]string{"id": recorded.Decision.ID})
	got, rpcErr := d.Dispatch(ctx, "cstp.getDecision", getParams, "agent-1")
	require.Nil(t, rpcErr)
	fetched, ok := got.(model.Decision)
	require.True(t, ok)
	require.Equal(t, recorded.Decision.ID, fetched.ID)

	reviewParams, _ := json.Marshal(map[string]any{
		"id":           recorded.Decision.ID,
		"outcome":      "success",
		"actualResult": "worked as expected",
	})
	_, rpcErr = d.Dispatch(ctx, "cstp.reviewDecision", reviewParams, "agent-1")
	require.Nil(t, rpcErr)
}

func TestGetDecisionUnknownIDReturnsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]string{"id": "deadbeef"})
	_, rpcErr := d.Dispatch(context.Background(), "cstp.getDecision", params, "agent-1")
	require.NotNil(t, rpcErr)
	require.Equal(t, cstperr.CodeNotFound, rpcErr.Code)
}

func TestGetReasonStatsAndAttributeOutcomesAgree(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	a, rpcErrA := d.Dispatch(ctx, "cstp.attributeOutcomes", json.RawMessage(`{}`), "agent-1")
	b, rpcErrB := d.Dispatch(ctx, "cstp.getReasonStats", json.RawMessage(`{}`), "agent-1")
	require.Nil(t, rpcErrA)
	require.Nil(t, rpcErrB)
	require.Equal(t, a, b)
}

func TestListGuardrailsRequiresNoParams(t *testing.T) {
	d := newTestDispatcher(t)
	result, rpcErr := d.Dispatch(context.Background(), "cstp.listGuardrails", nil, "agent-1")
	require.Nil(t, rpcErr)
	require.NotNil(t, result)
}
