package mieru_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mieru"
	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/testutil"
)

// recordingHook captures every trace it is notified about.
type recordingHook struct {
	mu     sync.Mutex
	traces []mieru.Trace
}

func (h *recordingHook) OnTraceRecorded(_ context.Context, trace mieru.Trace) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.traces = append(h.traces, trace)
	return nil
}

func (h *recordingHook) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.traces)
}

func (h *recordingHook) last() mieru.Trace {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.traces[len(h.traces)-1]
}

func newTestApp(t *testing.T, opts ...mieru.Option) *mieru.App {
	t.Helper()

	opts = append([]mieru.Option{
		mieru.WithDBDriver("sqlite"),
		mieru.WithSQLitePath(":memory:"),
		mieru.WithLogger(testutil.TestLogger()),
		mieru.WithVersion("test"),
	}, opts...)

	app, err := mieru.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, app.Shutdown(context.Background()))
	})
	return app
}

func TestNewServesHealth(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestServesOpenAPISpec(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Mieru Observability API")
}

func TestTraceHookFiresOnIngest(t *testing.T) {
	hook := &recordingHook{}
	app := newTestApp(t, mieru.WithTraceHook(hook))

	trace := model.Trace{
		ID:           uuid.New(),
		AgentName:    "browser_agent",
		Operation:    "navigate",
		Status:       model.TraceStatusError,
		DurationMs:   120,
		QualityScore: 0.4,
		CreatedAt:    time.Now().UTC(),
		Events: []model.Event{{
			EventType: model.ErrorEventType,
			Timestamp: time.Now().UTC(),
			Data:      map[string]any{"error_type": "TimeoutError"},
		}},
	}
	body, err := json.Marshal(trace)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/traces", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Eventually(t, func() bool { return hook.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	got := hook.last()
	assert.Equal(t, trace.ID, got.ID)
	assert.Equal(t, "browser_agent", got.AgentName)
	assert.Equal(t, "error", got.Status)
	assert.Equal(t, "TimeoutError", got.ErrorClass)
}

func TestExtraRoutesAndMiddleware(t *testing.T) {
	app := newTestApp(t,
		mieru.WithExtraRoutes(func(mux *http.ServeMux) {
			mux.HandleFunc("GET /api/custom/ping", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("pong"))
			})
		}),
		mieru.WithMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Embedder", "yes")
				next.ServeHTTP(w, r)
			})
		}),
	)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/custom/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Embedder"))

	// Middleware is outermost: it wraps built-in routes too.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "yes", rec.Header().Get("X-Embedder"))
}
