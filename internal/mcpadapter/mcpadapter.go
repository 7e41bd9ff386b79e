// Package mcpadapter exposes the CSTP dispatcher's method surface as MCP
// tools over github.com/mark3labs/mcp-go, directly adapted from teacher's
// internal/mcp/mcp.go + internal/mcp/tools.go. Unlike teacher, which hand
// curates seven tools over its own service layer, the CSTP method surface
// is registered generically: one MCP tool per dispatcher method, each
// delegating to dispatcher.Dispatch so there is exactly one implementation
// of every operation, shared with the JSON-RPC /cstp HTTP route.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/cstpd/internal/ctxutil"
	"github.com/ashita-ai/cstpd/internal/dispatcher"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake, explaining the decision-intelligence workflow without
// requiring per-project configuration.
const serverInstructions = `You have access to a decision intelligence server (CSTP):
a structured memory of prior decisions, the guardrails and circuit breakers
that govern them, and the graph of relationships between them.

WORKFLOW for any non-trivial action:

1. BEFORE acting: call cstp_preAction with a description of what you are about
   to do. It queries relevant prior decisions, evaluates guardrails, checks
   circuit breakers, and tells you whether the action is allowed.

2. AFTER acting: call cstp_recordDecision with what you decided, why, and
   your confidence. Later, when the outcome is known, call
   cstp_reviewDecision so calibration and drift analytics stay accurate.

3. At the start of a session, call cstp_getSessionContext to load the
   calling agent's profile, confirmed patterns, and outstanding review items.

Other tools (cstp_queryDecisions, cstp_getCalibration, cstp_checkDrift,
cstp_getGraph, cstp_getCompacted, ...) mirror the JSON-RPC method of the
same name one-for-one; each CSTP method maps to exactly one MCP tool with
a "params" argument holding that method's JSON-RPC params object.`

// Adapter wraps an mcp-go server exposing the dispatcher's methods as tools.
type Adapter struct {
	mcpServer  *mcpserver.MCPServer
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// New builds an Adapter with every tool registered.
func New(d *dispatcher.Dispatcher, name, version string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{dispatcher: d, logger: logger}
	a.mcpServer = mcpserver.NewMCPServer(
		name,
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)
	a.registerTools()
	return a
}

// MCPServer returns the underlying mcp-go server for transport mounting.
func (a *Adapter) MCPServer() *mcpserver.MCPServer {
	return a.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to encode result: " + err.Error()), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

// registerTools adds one tool per entry in methodCatalog, every one
// delegating to the same dispatcher.Dispatch the HTTP /cstp route uses.
func (a *Adapter) registerTools() {
	for _, m := range methodCatalog {
		m := m
		a.mcpServer.AddTool(
			mcplib.NewTool("cstp_"+m.name,
				mcplib.WithDescription(m.description),
				mcplib.WithReadOnlyHintAnnotation(m.readOnly),
				mcplib.WithIdempotentHintAnnotation(m.idempotent),
				mcplib.WithOpenWorldHintAnnotation(false),
				mcplib.WithString("params",
					mcplib.Description("JSON object with this method's params, matching the cstp."+m.name+" JSON-RPC method. Omit or pass {} for methods that take no params."),
				),
			),
			a.handlerFor(m.name),
		)
	}
}

func (a *Adapter) handlerFor(name string) func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	method := "cstp." + name
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		raw := request.GetString("params", "")
		var params json.RawMessage
		if raw != "" {
			params = json.RawMessage(raw)
		}
		agentID := ctxutil.AgentIDFromContext(ctx)
		result, rpcErr := a.dispatcher.Dispatch(ctx, method, params, agentID)
		if rpcErr != nil {
			return errorResult(rpcErr.Message), nil
		}
		return jsonResult(result)
	}
}
