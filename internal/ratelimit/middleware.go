package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ashita-ai/cstpd/internal/cstperr"
)

// KeyFunc extracts the rate limit key from a request. Returns "" to skip
// rate limiting for this request.
type KeyFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces a rate limit using limiter.
// If limiter is nil, all requests pass through unlimited.
func Middleware(limiter *MemoryLimiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil || !allowed {
				writeRateLimitError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitError writes a JSON-RPC rate-limited error envelope.
func writeRateLimitError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Error   *cstperr.Error  `json:"error"`
	}{
		JSONRPC: "2.0",
		ID:      nil,
		Error:   cstperr.New(cstperr.CodeRateLimited, "too many requests", nil),
	})
}

// IPKeyFunc extracts the client IP from the request for rate limiting.
// Uses RemoteAddr only; X-Forwarded-For is not consulted.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// AgentKeyFunc rate-limits by the authenticated agent id, falling back to
// the client IP when no agent id is present on the request context.
func AgentKeyFunc(agentIDFromRequest func(*http.Request) string) KeyFunc {
	return func(r *http.Request) string {
		if id := agentIDFromRequest(r); id != "" {
			return "agent:" + id
		}
		return "ip:" + IPKeyFunc(r)
	}
}
