package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/cstpd/internal/auth"
	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/config"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/dispatcher"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/lifecycle"
	"github.com/ashita-ai/cstpd/internal/retrieval"
	"github.com/ashita-ai/cstpd/internal/server"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

func newTestServer(t *testing.T, authTable *auth.Table) *httptest.Server {
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
		Decisions: store, Retrieval: engine, Guardrails: registry,
		Breakers: breakers, Tracker: tracker, Lifecycle: lc, Graph: g,
	})

	srv := server.New(server.Config{
		Dispatcher: d,
		AuthTable:  authTable,
		Card:       server.AgentCard{Name: "cstpd-test", Version: "0.0.0-test", Methods: d.Methods()},
	})
	return httptest.NewServer(srv.Handler())
}

func rpcCall(t *testing.T, url, method string, params any, token string) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url+"/cstp", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t, mustAuthTableExported(t))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSTPEndpointRejectsMissingToken(t *testing.T) {
	ts := newTestServer(t, mustAuthTableExported(t))
	defer ts.Close()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "cstp.listGuardrails", "params": map[string]any{},
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/cstp", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
}

func TestCSTPEndpointAcceptsValidToken(t *testing.T) {
	ts := newTestServer(t, mustAuthTableExported(t))
	defer ts.Close()

	out := rpcCall(t, ts.URL, "cstp.listGuardrails", map[string]any{}, "s3cr3t")
	require.Nil(t, out["error"])
	require.Contains(t, out, "result")
}

func TestCSTPEndpointUnknownMethodReturnsMethodNotFound(t *testing.T) {
	ts := newTestServer(t, mustAuthTableExported(t))
	defer ts.Close()

	out := rpcCall(t, ts.URL, "cstp.doesNotExist", map[string]any{}, "s3cr3t")
	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, -32601, errObj["code"])
	data, ok := errObj["data"].(map[string]any)
	require.True(t, ok, "expected method-not-found data to carry the known method list, got %+v", errObj)
	methods, ok := data["methods"].([]any)
	require.True(t, ok)
	require.Contains(t, methods, "cstp.listGuardrails")
}

func TestCSTPEndpointRejectsWrongProtocolVersion(t *testing.T) {
	ts := newTestServer(t, mustAuthTableExported(t))
	defer ts.Close()

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "1.0", "id": 1, "method": "cstp.listGuardrails", "params": map[string]any{},
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/cstp", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cr3t")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, -32600, errObj["code"])
}

func TestCSTPEndpointRejectsUnnamespacedMethod(t *testing.T) {
	ts := newTestServer(t, mustAuthTableExported(t))
	defer ts.Close()

	out := rpcCall(t, ts.URL, "listGuardrails", map[string]any{}, "s3cr3t")
	errObj, ok := out["error"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, -32600, errObj["code"])
}

func TestCSTPEndpointNoAuthTableAllowsUnauthenticatedRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.Close()

	out := rpcCall(t, ts.URL, "cstp.listGuardrails", map[string]any{}, "")
	require.Nil(t, out["error"])
}

func mustAuthTableExported(t *testing.T) *auth.Table {
	t.Helper()
	table, err := auth.NewTable([]config.TokenEntry{{Agent: "agent-1", Token: "s3cr3t"}})
	require.NoError(t, err)
	return table
}
