package mieru

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Mieru server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Mieru observability API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mieru: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		client:  httpClient,
	}, nil
}

// windowParams builds the time_window query string. A zero windowHours
// omits the parameter, so the server applies its default window.
func windowParams(windowHours int) url.Values {
	params := url.Values{}
	if windowHours > 0 {
		params.Set("time_window", strconv.Itoa(windowHours))
	}
	return params
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// ---------------------------------------------------------------------------
// Observability views
// ---------------------------------------------------------------------------

// Summary retrieves the top-level dashboard view for the given window.
// A zero windowHours uses the server's default window.
func (c *Client) Summary(ctx context.Context, windowHours int) (*ObservabilitySummary, error) {
	var resp ObservabilitySummary
	path := withQuery("/api/observability/summary", windowParams(windowHours))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PerformanceTrends retrieves the daily performance series. A non-positive
// days uses the server's default of 7.
func (c *Client) PerformanceTrends(ctx context.Context, days int) (*PerformanceTrends, error) {
	params := url.Values{}
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}
	var resp PerformanceTrends
	if err := c.get(ctx, withQuery("/api/observability/performance-trends", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentMetrics retrieves the roll-up for one agent.
func (c *Client) AgentMetrics(ctx context.Context, agent string, windowHours int) (*AgentMetrics, error) {
	params := windowParams(windowHours)
	params.Set("agent", agent)
	var resp AgentMetrics
	if err := c.get(ctx, withQuery("/api/observability/agent-metrics", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QualityMetrics retrieves quality statistics grouped by the given
// dimension ("operation", "agent", or "hour"). An empty groupBy uses
// the server's default of "operation"; any other value is rejected
// with an INVALID_INPUT error.
func (c *Client) QualityMetrics(ctx context.Context, groupBy string, windowHours int) (*QualityMetrics, error) {
	params := windowParams(windowHours)
	if groupBy != "" {
		params.Set("group_by", groupBy)
	}
	var resp QualityMetrics
	if err := c.get(ctx, withQuery("/api/observability/quality-metrics", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecisionAnalytics retrieves the window-wide decision roll-up.
func (c *Client) DecisionAnalytics(ctx context.Context, windowHours int) (*DecisionAnalytics, error) {
	var resp DecisionAnalytics
	path := withQuery("/api/observability/decision-analytics", windowParams(windowHours))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentInsights retrieves the narrative roll-up for one agent.
func (c *Client) AgentInsights(ctx context.Context, agent string, windowHours int) (*AgentInsights, error) {
	var resp AgentInsights
	path := withQuery("/api/observability/agent-insights/"+url.PathEscape(agent), windowParams(windowHours))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentRecommendations retrieves actionable suggestions for one agent.
func (c *Client) AgentRecommendations(ctx context.Context, agent string, windowHours int) (*AgentRecommendations, error) {
	var resp AgentRecommendations
	path := withQuery("/api/observability/agent/"+url.PathEscape(agent)+"/recommendations", windowParams(windowHours))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BehaviorPatterns retrieves the behavioral analysis view. An empty
// agent analyzes all agents together.
func (c *Client) BehaviorPatterns(ctx context.Context, agent string, windowHours int) (*BehaviorPatterns, error) {
	params := windowParams(windowHours)
	if agent != "" {
		params.Set("agent", agent)
	}
	var resp BehaviorPatterns
	if err := c.get(ctx, withQuery("/api/observability/behavior-patterns", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// CreateTask submits a new task for asynchronous execution. The returned
// task is in "pending" status; poll GetTask for completion.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var resp Task
	if err := c.post(ctx, "/api/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask retrieves a task by id.
func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	var resp Task
	if err := c.get(ctx, "/api/tasks/"+id.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecentTasks retrieves the most recently created tasks, newest first.
func (c *Client) RecentTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	if err := c.get(ctx, "/api/tasks/recent", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// TaskTraces retrieves the execution traces recorded for a task.
func (c *Client) TaskTraces(ctx context.Context, id uuid.UUID) ([]Trace, error) {
	var resp []Trace
	if err := c.get(ctx, "/api/tasks/"+id.String()+"/traces", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Trace ingestion and health
// ---------------------------------------------------------------------------

// IngestTrace pushes a completed trace to the server. The server assigns
// an id and created_at when they are zero. Returns the stored trace.
func (c *Client) IngestTrace(ctx context.Context, trace Trace) (*Trace, error) {
	var resp Trace
	if err := c.post(ctx, "/api/traces", trace, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the server's standard error response wrapper.
// Success responses carry the bare view JSON; only errors are enveloped.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mieru: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("mieru: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mieru: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mieru: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mieru: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("mieru: decode response body: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
