package model

import "time"

// PerformanceTrend classifies a trailing quality series.
type PerformanceTrend string

const (
	TrendStable    PerformanceTrend = "stable"
	TrendImproving PerformanceTrend = "improving"
	TrendDegrading PerformanceTrend = "degrading"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// QualityDistribution counts traces (or decisions) per quality bucket.
// The five buckets partition the considered population exactly.
type QualityDistribution struct {
	Excellent        int `json:"excellent"`
	Good             int `json:"good"`
	Acceptable       int `json:"acceptable"`
	NeedsImprovement int `json:"needs_improvement"`
	Poor             int `json:"poor"`
}

// Total returns the population size covered by the distribution.
func (d QualityDistribution) Total() int {
	return d.Excellent + d.Good + d.Acceptable + d.NeedsImprovement + d.Poor
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
	PerformanceTrend         PerformanceTrend    `json:"performance_trend"`
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
// QualityDifference can be negative.
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
	PerformanceTrend       PerformanceTrend       `json:"performance_trend"`
	ConfidenceDistribution ConfidenceDistribution `json:"confidence_distribution"`
	Recommendations        []string               `json:"recommendations"`
	GeneratedAt            time.Time              `json:"generated_at"`
	TimeWindowHours        int                    `json:"time_window_hours"`
}

// Recommendation is one actionable suggestion from the rule engine.
type Recommendation struct {
	Type     string   `json:"type"`
	Priority Priority `json:"priority"`
	Action   string   `json:"action"`
	Reason   string   `json:"reason"`
}

// AgentRecommendations is the recommendation view for one agent.
type AgentRecommendations struct {
	AgentName       string           `json:"agent_name"`
	Recommendations []Recommendation `json:"recommendations"`
	InsightsSummary string           `json:"insights_summary"`
	QualityScore    float64          `json:"quality_score"`
	TimeWindowHours int              `json:"time_window_hours"`
}

// TimingBucket counts traces whose created_at falls in one UTC
// hour-of-day bucket, with their mean duration.
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

// BehavioralConsistency measures operational predictability. The score
// is unique_operations / total_operations; by historical convention a
// LOWER ratio is labeled HIGHER consistency (more repetitive behavior).
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

// PerformanceTrends is a daily time series, one point per calendar day
// in the requested window, ascending by date. Days with no traces are
// emitted with zero values rather than carried forward.
type PerformanceTrends struct {
	Daily []DailyPerformance `json:"daily"`
}
