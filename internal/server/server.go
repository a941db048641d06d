package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/ratelimit"
	"github.com/ashita-ai/mieru/internal/service/aggregate"
	"github.com/ashita-ai/mieru/internal/service/tasks"
	"github.com/ashita-ai/mieru/internal/storage"
)

// TraceHook receives a notification after a trace is stored, whether it
// arrived over HTTP or was recorded by the task runner. Hooks run in
// goroutines; failures are logged and never fail the originating write.
type TraceHook interface {
	OnTraceRecorded(ctx context.Context, trace model.Trace) error
}

// Server is the Mieru HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer, Runner.
type Config struct {
	// Required dependencies.
	Store      storage.Store
	Aggregator *aggregate.Service
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Runner    *tasks.Runner
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// Extension points for embedding consumers.
	TraceHooks  []TraceHook
	ExtraRoutes []func(*http.ServeMux)
	Middlewares []func(http.Handler) http.Handler

	// OpenAPISpec is the embedded OpenAPI YAML, served at /openapi.yaml.
	OpenAPISpec []byte

	// UIFS is the embedded dashboard filesystem. When non-nil the SPA is
	// mounted as the catch-all route.
	UIFS fs.FS

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	DefaultWindowHours  int
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	if cfg.DefaultWindowHours <= 0 {
		cfg.DefaultWindowHours = 24
	}
	h := newHandlers(cfg)

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	queryRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Observability views (rate limited by client IP).
	mux.Handle("GET /api/observability/summary", queryRL(http.HandlerFunc(h.HandleSummary)))
	mux.Handle("GET /api/observability/performance-trends", queryRL(http.HandlerFunc(h.HandlePerformanceTrends)))
	mux.Handle("GET /api/observability/agent-metrics", queryRL(http.HandlerFunc(h.HandleAgentMetrics)))
	mux.Handle("GET /api/observability/quality-metrics", queryRL(http.HandlerFunc(h.HandleQualityMetrics)))
	mux.Handle("GET /api/observability/decision-analytics", queryRL(http.HandlerFunc(h.HandleDecisionAnalytics)))
	mux.Handle("GET /api/observability/agent-insights/{agent}", queryRL(http.HandlerFunc(h.HandleAgentInsights)))
	mux.Handle("GET /api/observability/agent/{agent}/recommendations", queryRL(http.HandlerFunc(h.HandleAgentRecommendations)))
	mux.Handle("GET /api/observability/behavior-patterns", queryRL(http.HandlerFunc(h.HandleBehaviorPatterns)))

	// Tasks.
	mux.Handle("POST /api/tasks", http.HandlerFunc(h.HandleCreateTask))
	mux.Handle("GET /api/tasks/recent", queryRL(http.HandlerFunc(h.HandleRecentTasks)))
	mux.Handle("GET /api/tasks/{id}", queryRL(http.HandlerFunc(h.HandleGetTask)))
	mux.Handle("GET /api/tasks/{id}/traces", queryRL(http.HandlerFunc(h.HandleTaskTraces)))

	// Trace ingestion.
	mux.Handle("POST /api/traces", http.HandlerFunc(h.HandleIngestTrace))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health and API documentation (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Embedder-supplied routes share the mux and middleware chain.
	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Dashboard SPA catch-all. Registered last so every API route above
	// takes priority.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
		cfg.Logger.Info("ui enabled, serving dashboard at /")
	}

	// Middleware chain (outermost executes first):
	// request ID → CORS → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Embedder middlewares wrap everything, first registered outermost.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
