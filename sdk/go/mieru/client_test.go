package mieru

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Mieru API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
		"meta":  map[string]any{"request_id": "req-1", "timestamp": time.Now().UTC()},
	})
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty BaseURL")
	}
}

func TestSummaryPassesTimeWindow(t *testing.T) {
	var receivedWindow string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/summary": func(w http.ResponseWriter, r *http.Request) {
			receivedWindow = r.URL.Query().Get("time_window")
			writeJSON(w, http.StatusOK, ObservabilitySummary{
				Summary: SummaryHeader{
					TimeWindowHours:    48,
					TotalTraces:        68,
					OverallSuccessRate: 0.9559,
				},
				KeyInsights: []string{"High overall success rate (95.6%) - system is performing well"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Summary(context.Background(), 48)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if receivedWindow != "48" {
		t.Errorf("expected time_window=48, got %q", receivedWindow)
	}
	if resp.Summary.TotalTraces != 68 {
		t.Errorf("expected 68 traces, got %d", resp.Summary.TotalTraces)
	}
	if len(resp.KeyInsights) != 1 {
		t.Fatalf("expected 1 key insight, got %d", len(resp.KeyInsights))
	}
}

func TestSummaryOmitsZeroWindow(t *testing.T) {
	var hadParam bool
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/summary": func(w http.ResponseWriter, r *http.Request) {
			hadParam = r.URL.Query().Has("time_window")
			writeJSON(w, http.StatusOK, ObservabilitySummary{})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.Summary(context.Background(), 0); err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if hadParam {
		t.Error("expected time_window to be omitted for zero window")
	}
}

func TestAgentMetricsPassesAgent(t *testing.T) {
	var receivedAgent string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/agent-metrics": func(w http.ResponseWriter, r *http.Request) {
			receivedAgent = r.URL.Query().Get("agent")
			writeJSON(w, http.StatusOK, AgentMetrics{
				AgentName:   "decision_engine",
				TotalTraces: 68,
				SuccessRate: 0.9559,
				ErrorTypes:  map[string]int{"AttributeError": 1},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.AgentMetrics(context.Background(), "decision_engine", 24)
	if err != nil {
		t.Fatalf("AgentMetrics failed: %v", err)
	}
	if receivedAgent != "decision_engine" {
		t.Errorf("expected agent=decision_engine, got %q", receivedAgent)
	}
	if resp.SuccessRate != 0.9559 {
		t.Errorf("expected success rate 0.9559, got %v", resp.SuccessRate)
	}
	if resp.ErrorTypes["AttributeError"] != 1 {
		t.Errorf("unexpected error types: %v", resp.ErrorTypes)
	}
}

func TestQualityMetricsGroupBy(t *testing.T) {
	var receivedGroupBy string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/quality-metrics": func(w http.ResponseWriter, r *http.Request) {
			receivedGroupBy = r.URL.Query().Get("group_by")
			writeJSON(w, http.StatusOK, QualityMetrics{
				GroupBy: "agent",
				Groups: map[string]QualityGroup{
					"decision_engine": {TraceCount: 68, AverageQuality: 0.75},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.QualityMetrics(context.Background(), "agent", 0)
	if err != nil {
		t.Fatalf("QualityMetrics failed: %v", err)
	}
	if receivedGroupBy != "agent" {
		t.Errorf("expected group_by=agent, got %q", receivedGroupBy)
	}
	if resp.Groups["decision_engine"].TraceCount != 68 {
		t.Errorf("unexpected groups: %v", resp.Groups)
	}
}

func TestAgentInsightsEscapesAgent(t *testing.T) {
	var receivedPath string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/agent-insights/{agent}": func(w http.ResponseWriter, r *http.Request) {
			receivedPath = r.URL.Path
			writeJSON(w, http.StatusOK, AgentInsights{AgentName: r.PathValue("agent")})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.AgentInsights(context.Background(), "browser_agent", 24)
	if err != nil {
		t.Fatalf("AgentInsights failed: %v", err)
	}
	if receivedPath != "/api/observability/agent-insights/browser_agent" {
		t.Errorf("unexpected path: %q", receivedPath)
	}
	if resp.AgentName != "browser_agent" {
		t.Errorf("expected agent browser_agent, got %q", resp.AgentName)
	}
}

func TestBehaviorPatternsOptionalAgent(t *testing.T) {
	var hadAgent bool
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/behavior-patterns": func(w http.ResponseWriter, r *http.Request) {
			hadAgent = r.URL.Query().Has("agent")
			writeJSON(w, http.StatusOK, BehaviorPatterns{TotalTracesAnalyzed: 5})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.BehaviorPatterns(context.Background(), "", 24); err != nil {
		t.Fatalf("BehaviorPatterns failed: %v", err)
	}
	if hadAgent {
		t.Error("expected agent param to be omitted when empty")
	}
}

func TestCreateTaskRoundTrip(t *testing.T) {
	taskID := uuid.New()

	var receivedBody CreateTaskRequest
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/tasks": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeAPIError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, Task{
				ID:        taskID,
				TaskType:  receivedBody.TaskType,
				Status:    "pending",
				InputData: receivedBody.InputData,
				CreatedAt: time.Now().UTC(),
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	maxLen := 100
	resp, err := client.CreateTask(context.Background(), CreateTaskRequest{
		TaskType:   "summarize",
		InputData:  map[string]any{"text": "the quick brown fox"},
		Parameters: TaskParameters{MaxLength: &maxLen},
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if resp.ID != taskID {
		t.Errorf("expected task ID %s, got %s", taskID, resp.ID)
	}
	if resp.Status != "pending" {
		t.Errorf("expected status pending, got %q", resp.Status)
	}
	if receivedBody.TaskType != "summarize" {
		t.Errorf("expected task_type summarize, got %q", receivedBody.TaskType)
	}
	if receivedBody.Parameters.MaxLength == nil || *receivedBody.Parameters.MaxLength != 100 {
		t.Errorf("expected max_length 100, got %v", receivedBody.Parameters.MaxLength)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/tasks/{id}": func(w http.ResponseWriter, r *http.Request) {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetTask(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error for missing task")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %q", apiErr.Code)
	}
}

func TestTaskTraces(t *testing.T) {
	taskID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/tasks/{id}/traces": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("id") != taskID.String() {
				writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
				return
			}
			writeJSON(w, http.StatusOK, []Trace{
				{ID: uuid.New(), AgentName: "summarize_agent", Operation: "validate_input", Status: "success"},
				{ID: uuid.New(), AgentName: "summarize_agent", Operation: "generate_summary", Status: "success"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	traces, err := client.TaskTraces(context.Background(), taskID)
	if err != nil {
		t.Fatalf("TaskTraces failed: %v", err)
	}
	if len(traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(traces))
	}
	if traces[0].Operation != "validate_input" {
		t.Errorf("unexpected first operation: %q", traces[0].Operation)
	}
}

func TestIngestTraceReturnsStored(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/traces": func(w http.ResponseWriter, r *http.Request) {
			var trace Trace
			if err := json.NewDecoder(r.Body).Decode(&trace); err != nil {
				writeAPIError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
				return
			}
			trace.ID = uuid.New()
			trace.CreatedAt = time.Now().UTC()
			writeJSON(w, http.StatusCreated, trace)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.IngestTrace(context.Background(), Trace{
		AgentName:    "browser_agent",
		Operation:    "navigate",
		Status:       "success",
		DurationMs:   120,
		QualityScore: 0.9,
	})
	if err != nil {
		t.Fatalf("IngestTrace failed: %v", err)
	}
	if resp.ID == uuid.Nil {
		t.Error("expected server-assigned trace ID")
	}
	if resp.AgentName != "browser_agent" {
		t.Errorf("unexpected agent name: %q", resp.AgentName)
	}
}

func TestRateLimitedError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/observability/summary": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Summary(context.Background(), 24)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if !IsRateLimited(err) {
		t.Errorf("expected IsRateLimited, got %v", err)
	}
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream unavailable"))
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsServerError(err) {
		t.Errorf("expected IsServerError, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Message != "upstream unavailable" {
		t.Errorf("expected raw body as message, got %q", apiErr.Message)
	}
}

func TestHealth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, HealthResponse{
				Status:   "healthy",
				Version:  "1.0.0",
				Database: "connected",
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
}
