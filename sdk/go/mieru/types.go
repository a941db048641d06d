package mieru

import (
	"time"

	"github.com/google/uuid"
)

// Trace mirrors the server's trace model for API consumers.
type Trace struct {
	ID           uuid.UUID     `json:"id"`
	TaskID       *uuid.UUID    `json:"task_id,omitempty"`
	AgentName    string        `json:"agent_name"`
	Operation    string        `json:"operation"`
	Status       string        `json:"status"` // "success" | "error"
	DurationMs   float64       `json:"duration_ms"`
	QualityScore float64       `json:"quality_score"`
	CreatedAt    time.Time     `json:"created_at"`
	Decisions    []Decision    `json:"decisions"`
	Events       []Event       `json:"events"`
	Observations []Observation `json:"observations"`
}

// Decision is a single choice point inside a trace.
type Decision struct {
	DecisionType  string  `json:"decision_type"`
	Quality       float64 `json:"quality"`
	ContextLength int     `json:"context_length"`
	Rationale     string  `json:"rationale"`
}

// Event is a timestamped occurrence inside a trace.
type Event struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Observation is a perceptual or evidence record inside a trace.
type Observation struct {
	ObservationType string  `json:"observation_type"`
	Content         string  `json:"content"`
	Confidence      float64 `json:"confidence"`
}

// Task is a user-initiated unit of work.
type Task struct {
	ID           uuid.UUID      `json:"id"`
	TaskType     string         `json:"task_type"`
	Status       string         `json:"status"` // pending | running | completed | failed
	InputData    map[string]any `json:"input_data"`
	Result       map[string]any `json:"result,omitempty"`
	QualityScore *float64       `json:"quality_score,omitempty"`
	Error        *string        `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TaskParameters are optional execution parameters supplied at creation.
type TaskParameters struct {
	MaxLength      *int     `json:"max_length,omitempty"`
	TargetLanguage *string  `json:"target_language,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	Format         *string  `json:"format,omitempty"`
}

// CreateTaskRequest is the request body for task creation.
type CreateTaskRequest struct {
	TaskType   string         `json:"task_type"`
	InputData  map[string]any `json:"input_data"`
	Parameters TaskParameters `json:"parameters"`
}

// QualityDistribution counts traces (or decisions) per quality bucket.
type QualityDistribution struct {
	Excellent        int `json:"excellent"`
	Good             int `json:"good"`
	Acceptable       int `json:"acceptable"`
	NeedsImprovement int `json:"needs_improvement"`
	Poor             int `json:"poor"`
}

// ScoreSummary holds the standard sample statistics over quality scores.
type ScoreSummary struct {
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"std_dev"`
}

// AgentMetrics is the single-agent roll-up for a time window.
type AgentMetrics struct {
	AgentName                string              `json:"agent_name"`
	TotalTraces              int                 `json:"total_traces"`
	SuccessRate              float64             `json:"success_rate"`
	AverageQualityScore      float64             `json:"average_quality_score"`
	AverageDurationMs        float64             `json:"average_duration_ms"`
	AverageDecisionsPerTrace float64             `json:"average_decisions_per_trace"`
	AverageDecisionQuality   float64             `json:"average_decision_quality"`
	FailedTraces             int                 `json:"failed_traces"`
	ErrorTypes               map[string]int      `json:"error_types"`
	PerformanceTrend         string              `json:"performance_trend"`
	QualityDistribution      QualityDistribution `json:"quality_distribution"`
	Recommendations          []string            `json:"recommendations"`
}

// QualityGroup carries per-group quality statistics for QualityMetrics.
type QualityGroup struct {
	TraceCount          int                 `json:"trace_count"`
	AverageQuality      float64             `json:"average_quality"`
	MinQuality          float64             `json:"min_quality"`
	MaxQuality          float64             `json:"max_quality"`
	MedianQuality       float64             `json:"median_quality"`
	SuccessRate         float64             `json:"success_rate"`
	QualityDistribution QualityDistribution `json:"quality_distribution"`
}

// QualityMetrics groups traces by a caller-specified dimension.
type QualityMetrics struct {
	GroupBy         string                  `json:"group_by"`
	TimeWindowHours int                     `json:"time_window_hours"`
	TotalTraces     int                     `json:"total_traces"`
	Groups          map[string]QualityGroup `json:"groups"`
	OverallMetrics  ScoreSummary            `json:"overall_metrics"`
}

// DecisionTypeStats summarizes decisions of one decision_type.
type DecisionTypeStats struct {
	Count          int     `json:"count"`
	AverageQuality float64 `json:"average_quality"`
	Percentage     float64 `json:"percentage"`
}

// SuccessCorrelation compares decision quality between decisions whose
// parent traces succeeded and those whose parent traces failed.
type SuccessCorrelation struct {
	SuccessfulTraceDecisionsAvgQuality float64 `json:"successful_trace_decisions_avg_quality"`
	FailedTraceDecisionsAvgQuality     float64 `json:"failed_trace_decisions_avg_quality"`
	QualityDifference                  float64 `json:"quality_difference"`
}

// DecisionAnalytics is the window-wide decision roll-up.
type DecisionAnalytics struct {
	TimeWindowHours          int                          `json:"time_window_hours"`
	TotalDecisions           int                          `json:"total_decisions"`
	AverageDecisionsPerTrace float64                      `json:"average_decisions_per_trace"`
	AverageDecisionQuality   float64                      `json:"average_decision_quality"`
	AverageContextLength     float64                      `json:"average_context_length"`
	DecisionTypeAnalysis     map[string]DecisionTypeStats `json:"decision_type_analysis"`
	QualityDistribution      QualityDistribution          `json:"quality_distribution"`
	SuccessCorrelation       SuccessCorrelation           `json:"success_correlation"`
}

// ConfidenceDistribution summarizes observation confidence for an agent.
type ConfidenceDistribution struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// AgentInsights is the per-agent narrative roll-up.
type AgentInsights struct {
	AgentName              string                 `json:"agent_name"`
	ObservationCount       int                    `json:"observation_count"`
	DecisionCount          int                    `json:"decision_count"`
	SelfEvaluationCount    int                    `json:"self_evaluation_count"`
	AverageDecisionQuality float64                `json:"average_decision_quality"`
	AverageQualityScore    float64                `json:"average_quality_score"`
	BehaviorPatterns       []string               `json:"behavior_patterns"`
	PerformanceTrend       string                 `json:"performance_trend"`
	ConfidenceDistribution ConfidenceDistribution `json:"confidence_distribution"`
	Recommendations        []string               `json:"recommendations"`
	GeneratedAt            time.Time              `json:"generated_at"`
	TimeWindowHours        int                    `json:"time_window_hours"`
}

// Recommendation is one actionable suggestion from the rule engine.
type Recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"` // high | medium | low
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

// AgentRecommendations is the recommendation view for one agent.
type AgentRecommendations struct {
	AgentName       string           `json:"agent_name"`
	Recommendations []Recommendation `json:"recommendations"`
	InsightsSummary string           `json:"insights_summary"`
	QualityScore    float64          `json:"quality_score"`
	TimeWindowHours int              `json:"time_window_hours"`
}

// TimingBucket counts traces in one UTC hour-of-day bucket.
type TimingBucket struct {
	Count       int     `json:"count"`
	AvgDuration float64 `json:"avg_duration"`
}

// OperationSequence describes an agent's operation timeline.
type OperationSequence struct {
	TotalOperations int            `json:"total_operations"`
	SuccessRate     float64        `json:"success_rate"`
	CommonSequences map[string]int `json:"common_sequences"`
	AverageDuration float64        `json:"average_duration"`
}

// BehavioralConsistency measures operational predictability.
type BehavioralConsistency struct {
	ConsistencyScore float64 `json:"consistency_score"`
	UniqueOperations int     `json:"unique_operations"`
	TotalOperations  int     `json:"total_operations"`
	ConsistencyLevel string  `json:"consistency_level"`
}

// BehaviorPatterns is the behavioral analysis view for one agent.
type BehaviorPatterns struct {
	AgentName             string                           `json:"agent_name"`
	TimeWindowHours       int                              `json:"time_window_hours"`
	TotalTracesAnalyzed   int                              `json:"total_traces_analyzed"`
	OperationSequences    map[string]OperationSequence     `json:"operation_sequences"`
	ErrorPatterns         map[string]int                   `json:"error_patterns"`
	TimingPatterns        map[string]TimingBucket          `json:"timing_patterns"`
	BehavioralConsistency map[string]BehavioralConsistency `json:"behavioral_consistency"`
	Insights              []string                         `json:"insights"`
}

// SummaryHeader is the global roll-up block of ObservabilitySummary.
type SummaryHeader struct {
	TimeWindowHours    int       `json:"time_window_hours"`
	GeneratedAt        time.Time `json:"generated_at"`
	AgentCount         int       `json:"agent_count"`
	TotalTraces        int       `json:"total_traces"`
	OverallSuccessRate float64   `json:"overall_success_rate"`
	OverallQuality     float64   `json:"overall_quality"`
}

// ObservabilitySummary is the top-level dashboard view.
type ObservabilitySummary struct {
	Summary          SummaryHeader           `json:"summary"`
	AgentPerformance map[string]AgentMetrics `json:"agent_performance"`
	QualityOverview  QualityMetrics          `json:"quality_overview"`
	DecisionInsights DecisionAnalytics       `json:"decision_insights"`
	KeyInsights      []string                `json:"key_insights"`
}

// DailyPerformance is one point of the performance-trends series.
type DailyPerformance struct {
	Date        string  `json:"date"`
	AvgQuality  float64 `json:"avg_quality"`
	SuccessRate float64 `json:"success_rate"`
}

// PerformanceTrends is a daily time series, ascending by date.
type PerformanceTrends struct {
	Daily []DailyPerformance `json:"daily"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
}
