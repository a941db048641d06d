package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/service/aggregate"
	"github.com/ashita-ai/mieru/internal/service/tasks"
	"github.com/ashita-ai/mieru/internal/storage"
)

// handlers holds HTTP handler dependencies.
type handlers struct {
	store               storage.Store
	aggregator          *aggregate.Service
	runner              *tasks.Runner
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	defaultWindowHours  int
	traceHooks          []TraceHook
	openapiSpec         []byte
}

func newHandlers(cfg Config) *handlers {
	return &handlers{
		store:               cfg.Store,
		aggregator:          cfg.Aggregator,
		runner:              cfg.Runner,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		defaultWindowHours:  cfg.DefaultWindowHours,
		traceHooks:          cfg.TraceHooks,
		openapiSpec:         cfg.OpenAPISpec,
	}
}

// windowAliases are the suffixed forms the dashboard's selector uses.
var windowAliases = map[string]int{
	"1h":  1,
	"6h":  6,
	"24h": 24,
	"7d":  168,
	"30d": 720,
}

// parseTimeWindow reads the time_window query parameter as integer
// hours, also accepting the dashboard's suffixed aliases. Missing means
// the default window; malformed or non-positive is an error.
func (h *handlers) parseTimeWindow(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("time_window")
	if raw == "" {
		return h.defaultWindowHours, nil
	}
	if hours, err := strconv.Atoi(raw); err == nil {
		if hours <= 0 {
			return 0, errors.New("time_window must be positive")
		}
		return hours, nil
	}
	if hours, ok := windowAliases[raw]; ok {
		return hours, nil
	}
	return 0, errors.New("time_window must be a positive integer number of hours")
}

// aggregateError maps aggregation failures to HTTP responses. Validation
// errors are the caller's fault; anything else is a 500.
func (h *handlers) aggregateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, aggregate.ErrInvalidWindow),
		errors.Is(err, aggregate.ErrInvalidDays),
		errors.Is(err, aggregate.ErrInvalidGroupBy):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	default:
		h.logger.Error("aggregation failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "aggregation failed")
	}
}

// HandleSummary handles GET /api/observability/summary.
func (h *handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	summary, err := h.aggregator.Summary(r.Context(), hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandlePerformanceTrends handles GET /api/observability/performance-trends.
func (h *handlers) HandlePerformanceTrends(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "days must be an integer")
			return
		}
		days = n
	}

	trends, err := h.aggregator.PerformanceTrends(r.Context(), days)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

// HandleAgentMetrics handles GET /api/observability/agent-metrics.
// An agent with no traces in the window yields a zero-valued aggregate,
// not an error.
func (h *handlers) HandleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent is required")
		return
	}

	metrics, err := h.aggregator.AgentMetrics(r.Context(), agent, hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// HandleQualityMetrics handles GET /api/observability/quality-metrics.
func (h *handlers) HandleQualityMetrics(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = "operation"
	}

	metrics, err := h.aggregator.QualityMetrics(r.Context(), groupBy, hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// HandleDecisionAnalytics handles GET /api/observability/decision-analytics.
func (h *handlers) HandleDecisionAnalytics(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	analytics, err := h.aggregator.DecisionAnalytics(r.Context(), hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

// HandleAgentInsights handles GET /api/observability/agent-insights/{agent}.
func (h *handlers) HandleAgentInsights(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	insights, err := h.aggregator.AgentInsights(r.Context(), r.PathValue("agent"), hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

// HandleAgentRecommendations handles GET /api/observability/agent/{agent}/recommendations.
func (h *handlers) HandleAgentRecommendations(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	recs, err := h.aggregator.AgentRecommendations(r.Context(), r.PathValue("agent"), hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleBehaviorPatterns handles GET /api/observability/behavior-patterns.
func (h *handlers) HandleBehaviorPatterns(w http.ResponseWriter, r *http.Request) {
	hours, err := h.parseTimeWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	patterns, err := h.aggregator.BehaviorPatterns(r.Context(), r.URL.Query().Get("agent"), hours)
	if err != nil {
		h.aggregateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleHealth handles GET /health.
func (h *handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Database: dbStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}
