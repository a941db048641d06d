// Package mcp exposes the aggregation views over the Model Context
// Protocol, so MCP-compatible agents can inspect their own performance
// the same way the dashboard does.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mieru/internal/service/aggregate"
)

// defaultWindowHours bounds tool queries when the caller omits a window.
const defaultWindowHours = 24

// Server wraps the MCP server with the aggregation service.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	aggregator *aggregate.Service
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(aggregator *aggregate.Service, logger *slog.Logger) *Server {
	s := &Server{
		aggregator: aggregator,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mieru",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// mieru_summary: the system-wide roll-up.
	s.mcpServer.AddTool(
		mcplib.NewTool("mieru_summary",
			mcplib.WithDescription(`Get the system-wide observability summary: per-agent performance, quality overview, and key insights for a time window.

WHEN TO USE: To get an overall picture of how all agents are performing before drilling into a specific agent.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("time_window_hours",
				mcplib.Description("Aggregation window in hours"),
				mcplib.Min(1),
				mcplib.Max(8760),
				mcplib.DefaultNumber(defaultWindowHours),
			),
		),
		s.handleSummary,
	)

	// mieru_agent_metrics: single-agent roll-up.
	s.mcpServer.AddTool(
		mcplib.NewTool("mieru_agent_metrics",
			mcplib.WithDescription(`Get one agent's metrics for a time window: trace counts, success rate, quality distribution, error types, trend, and recommendations.

An agent with no traces in the window returns a zero-valued aggregate, not an error.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent",
				mcplib.Description("Agent name, e.g. decision_engine"),
				mcplib.Required(),
			),
			mcplib.WithNumber("time_window_hours",
				mcplib.Description("Aggregation window in hours"),
				mcplib.Min(1),
				mcplib.Max(8760),
				mcplib.DefaultNumber(defaultWindowHours),
			),
		),
		s.handleAgentMetrics,
	)

	// mieru_behavior_patterns: operation sequences and consistency.
	s.mcpServer.AddTool(
		mcplib.NewTool("mieru_behavior_patterns",
			mcplib.WithDescription(`Get behavioral patterns for agents in a time window: common operation sequences, behavioral consistency, timing patterns, and error patterns.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent",
				mcplib.Description("Optional: restrict the analysis to one agent"),
			),
			mcplib.WithNumber("time_window_hours",
				mcplib.Description("Aggregation window in hours"),
				mcplib.Min(1),
				mcplib.Max(8760),
				mcplib.DefaultNumber(defaultWindowHours),
			),
		),
		s.handleBehaviorPatterns,
	)
}

func (s *Server) handleSummary(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	hours := request.GetInt("time_window_hours", defaultWindowHours)

	summary, err := s.aggregator.Summary(ctx, hours)
	if err != nil {
		return errorResult(fmt.Sprintf("summary failed: %v", err)), nil
	}
	return jsonResult(summary)
}

func (s *Server) handleAgentMetrics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := request.GetString("agent", "")
	if agent == "" {
		return errorResult("agent is required"), nil
	}
	hours := request.GetInt("time_window_hours", defaultWindowHours)

	metrics, err := s.aggregator.AgentMetrics(ctx, agent, hours)
	if err != nil {
		return errorResult(fmt.Sprintf("agent metrics failed: %v", err)), nil
	}
	return jsonResult(metrics)
}

func (s *Server) handleBehaviorPatterns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := request.GetString("agent", "")
	hours := request.GetInt("time_window_hours", defaultWindowHours)

	patterns, err := s.aggregator.BehaviorPatterns(ctx, agent, hours)
	if err != nil {
		return errorResult(fmt.Sprintf("behavior patterns failed: %v", err)), nil
	}
	return jsonResult(patterns)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
