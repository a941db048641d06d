package aggregate

import (
	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/stats"
)

// trendThreshold is the relative change between the recent and baseline
// window means beyond which a series is no longer considered stable.
const trendThreshold = 0.05

// classifyTrend labels a chronological series of quality values. The
// last ⌈n/2⌉ points form the recent window; the rest are the baseline.
// A relative change beyond ±5% yields improving/degrading. Series too
// short to split, flat series, and duplicated flat series are stable.
func classifyTrend(values []float64) model.PerformanceTrend {
	n := len(values)
	if n < 2 {
		return model.TrendStable
	}

	split := n - (n+1)/2
	baseline := stats.Mean(values[:split])
	recent := stats.Mean(values[split:])

	if baseline == 0 {
		if recent > 0 {
			return model.TrendImproving
		}
		return model.TrendStable
	}

	change := (recent - baseline) / baseline
	switch {
	case change > trendThreshold:
		return model.TrendImproving
	case change < -trendThreshold:
		return model.TrendDegrading
	default:
		return model.TrendStable
	}
}
