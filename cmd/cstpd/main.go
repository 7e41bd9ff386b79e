// Command cstpd runs the CSTP decision intelligence server: a JSON-RPC 2.0
// HTTP endpoint plus an MCP tool surface over the same dispatcher, backed by
// pluggable decision storage, vector search, and embedding providers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/cstpd/internal/aggregator"
	"github.com/ashita-ai/cstpd/internal/auth"
	"github.com/ashita-ai/cstpd/internal/breaker"
	"github.com/ashita-ai/cstpd/internal/bridge"
	"github.com/ashita-ai/cstpd/internal/compaction"
	"github.com/ashita-ai/cstpd/internal/config"
	"github.com/ashita-ai/cstpd/internal/decisionstore"
	"github.com/ashita-ai/cstpd/internal/deliberation"
	"github.com/ashita-ai/cstpd/internal/dispatcher"
	"github.com/ashita-ai/cstpd/internal/embedding"
	"github.com/ashita-ai/cstpd/internal/graph"
	"github.com/ashita-ai/cstpd/internal/guardrail"
	"github.com/ashita-ai/cstpd/internal/lifecycle"
	"github.com/ashita-ai/cstpd/internal/mcpadapter"
	"github.com/ashita-ai/cstpd/internal/ratelimit"
	"github.com/ashita-ai/cstpd/internal/retrieval"
	"github.com/ashita-ai/cstpd/internal/server"
	"github.com/ashita-ai/cstpd/internal/telemetry"
	"github.com/ashita-ai/cstpd/internal/vectorstore"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("CSTP_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	configPath := os.Getenv("CSTP_CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("cstpd starting", "version", version, "port", cfg.Server.Port, "storage_backend", cfg.Storage.Backend, "vector_backend", cfg.Vector.Backend)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTEL.Endpoint, cfg.Agent.Name, version, cfg.OTEL.Insecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	decisions, err := newDecisionStore(cfg)
	if err != nil {
		return fmt.Errorf("decision store: %w", err)
	}

	vectors, err := newVectorStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if err := vectors.Initialize(ctx); err != nil {
		return fmt.Errorf("vector store init: %w", err)
	}

	embedder := newEmbeddingProvider(cfg)

	guardrails := guardrail.NewRegistry(cfg.Guardrails.Dir, logger)
	if err := guardrails.Load(); err != nil {
		return fmt.Errorf("guardrails: %w", err)
	}

	breakers := breaker.NewManager(cfg.Breaker.ConfigPath, cfg.Breaker.PersistencePath, logger)
	if err := breakers.Initialize(ctx); err != nil {
		return fmt.Errorf("breakers: %w", err)
	}

	sessionTTL, legacyMinutesUsed := cfg.SessionTTL()
	if legacyMinutesUsed {
		logger.Warn("tracker.session_ttl_minutes is deprecated, use tracker.session_ttl_seconds")
	}
	tracker := deliberation.NewTracker(cfg.InputTTL(), sessionTTL, logger)

	var extractor bridge.Extractor
	if cfg.Bridge.GeminiAPIKey != "" {
		extractor = bridge.NewGeminiExtractor(cfg.Bridge.GeminiAPIKey, cfg.Bridge.GeminiModel, cfg.Bridge.Timeout)
	}
	resolver := bridge.NewResolver(bridge.Mode(cfg.Bridge.Mode), extractor, logger)

	decisionGraph := graph.New(graphPersistencePath(cfg), func(ctx context.Context, id string) bool {
		_, err := decisions.Get(ctx, id)
		return err == nil
	}, logger)
	if err := decisionGraph.Load(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}

	retrievalEngine := retrieval.NewEngine(decisions, vectors, embedder, compaction.NewEngine(decisions))

	lifecycleMgr := lifecycle.New(decisions, vectors, embedder, tracker, resolver, decisionGraph, breakers, logger)

	agg := aggregator.New(decisions, retrievalEngine, guardrails, breakers, decisionGraph, lifecycleMgr)

	d := dispatcher.New(dispatcher.Deps{
		Decisions:  decisions,
		Retrieval:  retrievalEngine,
		Guardrails: guardrails,
		Breakers:   breakers,
		Tracker:    tracker,
		Lifecycle:  lifecycleMgr,
		Aggregator: agg,
		Graph:      decisionGraph,
		Compaction: compaction.NewEngine(decisions),
		Logger:     logger,
	})

	var authTable *auth.Table
	if cfg.Auth.Enabled {
		authTable, err = auth.NewTable(cfg.Auth.Tokens)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	var limiter *ratelimit.MemoryLimiter
	if rps, burst, ok := rateLimitFromEnv(); ok {
		limiter = ratelimit.NewMemoryLimiter(rps, burst)
	}

	adapter := mcpadapter.New(d, cfg.Agent.Name, cfg.Agent.Version, logger)

	srv := server.New(server.Config{
		Dispatcher:  d,
		AuthTable:   authTable,
		Logger:      logger,
		Card:        server.AgentCard{Name: cfg.Agent.Name, Description: cfg.Agent.Description, Version: cfg.Agent.Version, URL: cfg.Agent.URL, Methods: d.Methods()},
		Port:        cfg.Server.Port,
		Host:        cfg.Server.Host,
		CORSOrigins: cfg.Server.CORSOrigins,

		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,

		RateLimiter: limiter,
		MCPServer:   adapter.MCPServer(),
	})

	go trackerCleanupLoop(ctx, tracker, logger, 5*time.Minute)
	go breakerEvictionLoop(ctx, breakers, logger, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("cstpd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("cstpd stopped")
	return nil
}

func newDecisionStore(cfg config.Config) (decisionstore.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return decisionstore.NewSQLiteStore(cfg.Storage.DBPath)
	default:
		return decisionstore.NewYAMLStore(cfg.Storage.DBPath), nil
	}
}

func newVectorStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (vectorstore.Store, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			URL: cfg.Vector.URL, APIKey: cfg.Vector.APIKey, Collection: cfg.Vector.Collection, Dims: uint64(cfg.Vector.Dims),
		}, logger)
	case "pgvector":
		return vectorstore.NewPgVectorStore(ctx, cfg.Vector.PostgresDSN, "cstp_decision_vectors", cfg.Vector.Collection, cfg.Vector.Dims)
	default:
		return vectorstore.NewMemStore(cfg.Vector.Collection), nil
	}
}

func newEmbeddingProvider(cfg config.Config) embedding.Provider {
	switch cfg.Embedding.Provider {
	case "ollama":
		return embedding.NewOllamaProvider(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Vector.Dims)
	default:
		return embedding.NewNoopProvider(cfg.Vector.Dims)
	}
}

func graphPersistencePath(cfg config.Config) string {
	if cfg.Storage.DBPath == "" {
		return ""
	}
	return cfg.Storage.DBPath + "/graph.jsonl"
}

// trackerCleanupLoop periodically evicts expired deliberation sessions so
// long-lived processes don't accumulate stale tracked inputs forever.
func trackerCleanupLoop(ctx context.Context, tracker *deliberation.Tracker, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := tracker.CleanupExpired(); n > 0 {
				logger.Debug("deliberation tracker cleanup", "evicted", n)
			}
		}
	}
}

// breakerEvictionLoop periodically evicts circuit breaker scopes that have
// been closed and idle long enough to no longer be worth tracking.
func breakerEvictionLoop(ctx context.Context, breakers *breaker.Manager, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := breakers.EvictStale(); n > 0 {
				logger.Debug("breaker eviction", "evicted", n)
			}
		}
	}
}

// rateLimitFromEnv reads CSTP_RATE_LIMIT_RPS (float, requests/sec per key)
// and CSTP_RATE_LIMIT_BURST (int, default 2x rps). Rate limiting is disabled
// unless CSTP_RATE_LIMIT_RPS is set, matching config's opt-in defaults.
func rateLimitFromEnv() (rps float64, burst int, ok bool) {
	raw := os.Getenv("CSTP_RATE_LIMIT_RPS")
	if raw == "" {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(raw, "%f", &rps); err != nil || rps <= 0 {
		return 0, 0, false
	}
	burst = int(rps * 2)
	if b := os.Getenv("CSTP_RATE_LIMIT_BURST"); b != "" {
		fmt.Sscanf(b, "%d", &burst)
	}
	if burst < 1 {
		burst = 1
	}
	return rps, burst, true
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
