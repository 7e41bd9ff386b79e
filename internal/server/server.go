package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/cstpd/internal/auth"
	"github.com/ashita-ai/cstpd/internal/ctxutil"
	"github.com/ashita-ai/cstpd/internal/dispatcher"
	"github.com/ashita-ai/cstpd/internal/ratelimit"
)

// Server is the CSTP HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds every dependency and setting New needs.
type Config struct {
	Dispatcher  *dispatcher.Dispatcher
	AuthTable   *auth.Table // nil disables authentication
	Logger      *slog.Logger
	Card        AgentCard
	Port        int
	Host        string
	CORSOrigins []string

	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	RateLimiter *ratelimit.MemoryLimiter // nil disables rate limiting

	// MCPServer, when non-nil, is mounted at /mcp using mcp-go's
	// StreamableHTTP transport, the same route teacher's server.go uses.
	MCPServer *mcpserver.MCPServer
}

// New builds a Server with every route and middleware wired, in the same
// order as teacher's internal/server/server.go: request id → security
// headers → CORS → tracing → logging → auth → recovery → rate limit →
// handler (outermost first).
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}

	mux := http.NewServeMux()
	mux.Handle("POST /cstp", cstpHandler(cfg.Dispatcher, cfg.MaxRequestBodyBytes, cfg.Logger))
	mux.Handle("GET /health", healthHandler(cfg.Card.Version))
	mux.Handle("GET /.well-known/agent.json", agentCardHandler(cfg.Card))

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	var handler http.Handler = mux
	if cfg.RateLimiter != nil {
		handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.AgentKeyFunc(func(r *http.Request) string {
			return ctxutil.AgentIDFromContext(r.Context())
		}))(handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.AuthTable, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
