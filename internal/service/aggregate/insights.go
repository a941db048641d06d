package aggregate

import (
	"fmt"
	"sort"

	"github.com/ashita-ai/mieru/internal/model"
)

// Key-insight thresholds. These mirror the recommendation rule table so
// the narrative strings and the numeric aggregates they quote can never
// disagree.
const (
	highSuccessRate    = 0.9
	lowSuccessRate     = 0.7
	excellentDecisions = 0.9
	lowDecisions       = 0.6
	qualityBar         = 0.8
)

// keyInsights renders the summary's templated insight strings. Each
// line is derived from exactly one predicate over fields already in the
// summary, in fixed order.
func keyInsights(sum model.ObservabilitySummary) []string {
	out := []string{}
	header := sum.Summary

	switch {
	case header.TotalTraces == 0:
		out = append(out, "No traces recorded in this window")
		return out
	case header.OverallSuccessRate >= highSuccessRate:
		out = append(out, fmt.Sprintf("High overall success rate (%.1f%%) - system is performing well",
			header.OverallSuccessRate*100))
	case header.OverallSuccessRate < lowSuccessRate:
		out = append(out, fmt.Sprintf("Low overall success rate (%.1f%%) - failures need attention",
			header.OverallSuccessRate*100))
	}

	decQuality := sum.DecisionInsights.AverageDecisionQuality
	if sum.DecisionInsights.TotalDecisions > 0 {
		switch {
		case decQuality >= excellentDecisions:
			out = append(out, fmt.Sprintf("Decision quality is excellent at %.1f%%", decQuality*100))
		case decQuality < lowDecisions:
			out = append(out, fmt.Sprintf("Decision quality is low at %.1f%%", decQuality*100))
		}
	}

	// Agent quality uses the per-agent averages, worst offender first.
	for _, name := range sortedAgents(sum.AgentPerformance) {
		m := sum.AgentPerformance[name]
		if m.TotalTraces > 0 && m.AverageQualityScore < qualityBar {
			out = append(out, fmt.Sprintf("Average quality score (%.2f) has room for improvement",
				m.AverageQualityScore))
			break
		}
	}

	failed := 0
	for _, m := range sum.AgentPerformance {
		failed += m.FailedTraces
	}
	if failed > 0 {
		out = append(out, fmt.Sprintf("%d failed traces need investigation", failed))
	}

	return out
}

func sortedAgents(perf map[string]model.AgentMetrics) []string {
	names := make([]string, 0, len(perf))
	for name := range perf {
		names = append(names, name)
	}
	// Worst quality first; name tiebreak keeps output deterministic.
	sort.Slice(names, func(i, j int) bool {
		qi, qj := perf[names[i]].AverageQualityScore, perf[names[j]].AverageQualityScore
		if qi != qj {
			return qi < qj
		}
		return names[i] < names[j]
	})
	return names
}
