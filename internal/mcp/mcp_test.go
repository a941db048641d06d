package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/service/aggregate"
	"github.com/ashita-ai/mieru/internal/storage"
	"github.com/ashita-ai/mieru/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()
	logger := testutil.TestLogger()

	store, err := storage.NewSQLite(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return New(aggregate.New(store, nil, logger), logger), store
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func seedTraces(t *testing.T, store storage.Store, agent string, n int) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		require.NoError(t, store.InsertTrace(context.Background(), model.Trace{
			ID:           uuid.New(),
			AgentName:    agent,
			Operation:    "analyze_input",
			Status:       model.TraceStatusSuccess,
			DurationMs:   100,
			QualityScore: 0.9,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestHandleSummary(t *testing.T) {
	server, store := newTestServer(t)
	seedTraces(t, store, "decision_engine", 5)

	result, err := server.handleSummary(context.Background(),
		callRequest("mieru_summary", map[string]any{"time_window_hours": 24}))
	require.NoError(t, err)
	require.False(t, result.IsError, "summary should succeed: %s", parseToolText(t, result))

	var summary model.ObservabilitySummary
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &summary))
	assert.Equal(t, 5, summary.Summary.TotalTraces)
	assert.Contains(t, summary.AgentPerformance, "decision_engine")
}

func TestHandleAgentMetrics(t *testing.T) {
	server, store := newTestServer(t)
	seedTraces(t, store, "decision_engine", 3)

	result, err := server.handleAgentMetrics(context.Background(),
		callRequest("mieru_agent_metrics", map[string]any{"agent": "decision_engine"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var metrics model.AgentMetrics
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &metrics))
	assert.Equal(t, 3, metrics.TotalTraces)
	assert.Equal(t, 1.0, metrics.SuccessRate)
}

func TestHandleAgentMetricsRequiresAgent(t *testing.T) {
	server, _ := newTestServer(t)

	result, err := server.handleAgentMetrics(context.Background(),
		callRequest("mieru_agent_metrics", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleBehaviorPatterns(t *testing.T) {
	server, store := newTestServer(t)
	seedTraces(t, store, "decision_engine", 4)

	result, err := server.handleBehaviorPatterns(context.Background(),
		callRequest("mieru_behavior_patterns", map[string]any{"agent": "decision_engine"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var patterns model.BehaviorPatterns
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &patterns))
	assert.Contains(t, patterns.BehavioralConsistency, "decision_engine")
}

func TestInvalidWindowIsToolError(t *testing.T) {
	server, _ := newTestServer(t)

	result, err := server.handleSummary(context.Background(),
		callRequest("mieru_summary", map[string]any{"time_window_hours": -1}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
