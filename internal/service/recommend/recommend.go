// Package recommend generates actionable suggestions from an agent's
// aggregate metrics. The engine is a fixed ordered rule table: each rule
// is a predicate plus a render function, evaluated in declaration order.
// Identical input always produces an identical recommendation list.
package recommend

import (
	"fmt"
	"math"

	"github.com/ashita-ai/mieru/internal/model"
)

// Rule thresholds.
const (
	qualityThreshold      = 0.8    // below this, quality rule fires
	slowDurationMs        = 30_000 // above this, efficiency rule fires
	needsImprovementAlert = 10     // above this many traces, monitoring rule fires
)

// rule is one entry of the table. render must derive its text only from
// the metrics it quotes, so text and numbers cannot drift apart.
type rule struct {
	match  func(m model.AgentMetrics, windowHours int) bool
	render func(m model.AgentMetrics, windowHours int) model.Recommendation
}

var rules = []rule{
	{
		match: func(m model.AgentMetrics, _ int) bool {
			return m.TotalTraces > 0 && m.AverageQualityScore < qualityThreshold
		},
		render: func(m model.AgentMetrics, _ int) model.Recommendation {
			return model.Recommendation{
				Type:     "quality",
				Priority: model.PriorityHigh,
				Action:   "Implement additional quality checks",
				Reason:   fmt.Sprintf("Quality score (%.2f) below threshold", round2(m.AverageQualityScore)),
			}
		},
	},
	{
		match: func(m model.AgentMetrics, _ int) bool {
			return m.AverageDurationMs > slowDurationMs
		},
		render: func(m model.AgentMetrics, _ int) model.Recommendation {
			return model.Recommendation{
				Type:     "efficiency",
				Priority: model.PriorityMedium,
				Action:   "Optimize slow operations",
				Reason:   fmt.Sprintf("Average duration (%.0fms) is high", m.AverageDurationMs),
			}
		},
	},
	{
		match: func(m model.AgentMetrics, _ int) bool {
			return m.FailedTraces > 0
		},
		render: func(m model.AgentMetrics, windowHours int) model.Recommendation {
			return model.Recommendation{
				Type:     "reliability",
				Priority: model.PriorityMedium,
				Action:   "Add retry logic for flaky operations",
				Reason:   fmt.Sprintf("%d failed traces detected in the last %d hours", m.FailedTraces, windowHours),
			}
		},
	},
	{
		match: func(m model.AgentMetrics, _ int) bool {
			return m.QualityDistribution.NeedsImprovement > needsImprovementAlert
		},
		render: func(m model.AgentMetrics, _ int) model.Recommendation {
			return model.Recommendation{
				Type:     "monitoring",
				Priority: model.PriorityLow,
				Action:   "Set up alerting for quality degradation",
				Reason:   fmt.Sprintf("%d traces need improvement", m.QualityDistribution.NeedsImprovement),
			}
		},
	},
}

// ForAgent evaluates the rule table against an agent aggregate and
// returns one recommendation per matched rule, in rule order. The
// result is never nil.
func ForAgent(m model.AgentMetrics, windowHours int) []model.Recommendation {
	out := []model.Recommendation{}
	for _, r := range rules {
		if r.match(m, windowHours) {
			out = append(out, r.render(m, windowHours))
		}
	}
	return out
}

// Summary builds the AgentRecommendations view for one agent.
func Summary(m model.AgentMetrics, windowHours int) model.AgentRecommendations {
	return model.AgentRecommendations{
		AgentName:       m.AgentName,
		Recommendations: ForAgent(m, windowHours),
		InsightsSummary: string(m.PerformanceTrend),
		QualityScore:    round2(m.AverageQualityScore),
		TimeWindowHours: windowHours,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
