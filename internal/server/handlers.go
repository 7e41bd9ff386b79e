package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashita-ai/cstpd/internal/cstperr"
	"github.com/ashita-ai/cstpd/internal/ctxutil"
	"github.com/ashita-ai/cstpd/internal/dispatcher"
)

// methodNamespace is the fixed service namespace every cstp. method name
// must be prefixed with, per spec.md §4.1.
const methodNamespace = "cstp"

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	Result  any            `json:"result,omitempty"`
	Error   *cstperr.Error `json:"error,omitempty"`
	ID      any            `json:"id"`
}

// cstpHandler handles POST /cstp: decode the JSON-RPC envelope, dispatch,
// encode the result or error. Per spec.md §7, parse failures get
// CodeParseError and never reach the dispatcher.
func cstpHandler(d *dispatcher.Dispatcher, maxBodyBytes int64, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		raw, err := io.ReadAll(body)
		if err != nil {
			writeRPCError(w, nil, cstperr.New(cstperr.CodeParseError, "request body too large or unreadable", nil))
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			writeRPCError(w, nil, cstperr.New(cstperr.CodeParseError, "malformed JSON-RPC request", nil))
			return
		}
		if req.JSONRPC != "2.0" {
			writeRPCError(w, req.ID, cstperr.New(cstperr.CodeInvalidRequest, "jsonrpc must be the fixed string \"2.0\"", nil))
			return
		}
		if req.Method == "" {
			writeRPCError(w, req.ID, cstperr.New(cstperr.CodeInvalidRequest, "missing method", nil))
			return
		}
		if !strings.HasPrefix(req.Method, methodNamespace+".") {
			writeRPCError(w, req.ID, cstperr.New(cstperr.CodeInvalidRequest, "method must be prefixed with \""+methodNamespace+".\"", nil))
			return
		}

		agentID := ctxutil.AgentIDFromContext(r.Context())
		result, rpcErr := d.Dispatch(r.Context(), req.Method, req.Params, agentID)
		if rpcErr != nil {
			logger.Debug("dispatch error", "method", req.Method, "code", rpcErr.Code, "message", rpcErr.Message)
			writeRPCError(w, req.ID, rpcErr)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
	})
}

// healthHandler reports process liveness. No auth required, matching
// teacher's unauthenticated /health route.
func healthHandler(version string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})
}

// AgentCard is the minimal agent-discovery document served at
// /.well-known/agent.json, per spec.md §6.
type AgentCard struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	URL         string   `json:"url"`
	Methods     []string `json:"methods"`
}

func agentCardHandler(card AgentCard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(card)
	})
}
