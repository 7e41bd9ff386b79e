// Package ctxutil provides shared context key accessors. It exists so that
// the server's auth middleware and the mcpadapter package, which both need
// to read the authenticated agent id, do not need to import each other.
package ctxutil

import "context"

type contextKey string

const (
	keyAgentID   contextKey = "agent_id"
	keyRequestID contextKey = "request_id"
)

// WithAgentID returns a new context carrying the authenticated agent id.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentIDFromContext extracts the authenticated agent id, or "" if absent.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyAgentID).(string); ok {
		return v
	}
	return ""
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestIDFromContext extracts the request id, or "" if absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// AuditMeta carries the metadata needed to build a structured audit log
// entry for guardrail and circuit-breaker evaluations.
type AuditMeta struct {
	RequestID  string
	AgentID    string
	HTTPMethod string
	Endpoint   string
}
