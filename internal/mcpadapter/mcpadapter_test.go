package mcpadapter

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/ctxutil"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/dispatcher"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/lifecycle"
	"github.com/ashita-ai/cstpd/internal/retrieval"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

func newTestAdapter(t *testing.T) *Adapter {
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

	d := dispatcher.New(dispatcher.Deps{
		Decisions:  store,
		Retrieval:  engine,
		Guardrails: registry,
		Breakers:   breakers,
		Tracker:    tracker,
		Lifecycle:  lc,
		Graph:      g,
	})

	return New(d, "cstpd-test", "0.0.0-test", nil)
}

func callTool(ctx context.Context, a *Adapter, tool string, params string) (*mcplib.CallToolResult, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = "cstp_" + tool
	req.Params.Arguments = map[string]any{"params": params}
	return a.handlerFor(tool)(ctx, req)
}

func TestEveryMethodHasExactlyOneCatalogEntry(t *testing.T) {
	names := make(map[string]bool)
	for _, m := range methodCatalog {
		require.False(t, names[m.name], "duplicate catalog entry for %s", m.name)
		names[m.name] = true
	}

	methods := newTestAdapter(t).dispatcher.Methods()
	for _, method := range methods {
		require.True(t, names[strings.TrimPrefix(method, "cstp.")], "no catalog entry for %s", method)
	}
	require.Len(t, names, len(methods))
}

func TestListGuardrailsToolReturnsEmptyListWithNoParams(t *testing.T) {
	a := newTestAdapter(t)
	result, err := callTool(context.Background(), a, "listGuardrails", "")
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestGetDecisionToolReturnsErrorResultForUnknownID(t *testing.T) {
	a := newTestAdapter(t)
	result, err := callTool(context.Background(), a, "getDecision", `{"id":"deadbeef"}`)
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestRecordDecisionThenGetDecisionRoundTrips(t *testing.T) {
	a := newTestAdapter(t)
	ctx := ctxutil.WithAgentID(context.Background(), "agent-1")

	recordParams, err := json.Marshal(map[string]any{
		"decision": "use postgres for decision storage",
		"category": "architecture",
		"stakes":   "medium",
	})
	require.NoError(t, err)

	recordResult, err := callTool(ctx, a, "recordDecision", string(recordParams))
	require.NoError(t, err)
	require.False(t, recordResult.IsError)

	text := recordResult.Content[0].(mcplib.TextContent).Text
	var recorded struct {
		Decision struct {
			ID string `json:"id"`
		} `json:"decision"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &recorded))
	require.NotEmpty(t, recorded.Decision.ID)

	getParams, err := json.Marshal(map[string]string{"id": recorded.Decision.ID})
	require.NoError(t, err)
	getResult, err := callTool(ctx, a, "getDecision", string(getParams))
	require.NoError(t, err)
	require.False(t, getResult.IsError)
}

func TestGetReasonStatsAndAttributeOutcomesAgreeGivenSameParams(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	a2, err := callTool(ctx, a, "attributeOutcomes", `{}`)
	require.NoError(t, err)
	b, err := callTool(ctx, a, "getReasonStats", `{}`)
	require.NoError(t, err)

	require.Equal(t, a2.Content[0].(mcplib.TextContent).Text, b.Content[0].(mcplib.TextContent).Text)
}
