// Package behavior derives behavioral patterns from an agent's ordered
// trace history: operation transition counts, a consistency measure,
// timing and error patterns, and templated natural-language insights.
package behavior

import (
	"fmt"
	"sort"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/stats"
)

// Consistency level cutoffs over unique/total. By historical convention
// a LOWER ratio means HIGHER consistency (repetitive, predictable
// behavior); do not "fix" the inversion.
const (
	highConsistencyMax   = 0.3
	mediumConsistencyMax = 0.6
)

// maxCommonSequences bounds the transitions reported per agent.
const maxCommonSequences = 5

// Analysis is the behavioral profile of one agent within a window.
type Analysis struct {
	Sequence    model.OperationSequence
	Consistency model.BehavioralConsistency
	Timing      map[string]model.TimingBucket
	Errors      map[string]int
	Insights    []string
}

// Analyze computes the behavioral profile for one agent. Traces must be
// in chronological order; all of them are assumed to belong to the same
// agent. An empty history yields an empty but valid Analysis.
func Analyze(agentName string, traces []model.Trace) Analysis {
	a := Analysis{
		Sequence: model.OperationSequence{
			CommonSequences: commonSequences(traces),
		},
		Timing: timingPatterns(traces),
		Errors: errorPatterns(traces),
	}

	var durations []float64
	successes := 0
	unique := map[string]bool{}
	for _, t := range traces {
		durations = append(durations, t.DurationMs)
		if t.Status == model.TraceStatusSuccess {
			successes++
		}
		unique[t.Operation] = true
	}

	a.Sequence.TotalOperations = len(traces)
	a.Sequence.SuccessRate = stats.Round3(stats.Share(float64(successes), float64(len(traces))))
	a.Sequence.AverageDuration = stats.Round3(stats.Mean(durations))

	a.Consistency = model.BehavioralConsistency{
		UniqueOperations: len(unique),
		TotalOperations:  len(traces),
	}
	score := stats.Share(float64(len(unique)), float64(len(traces)))
	a.Consistency.ConsistencyScore = stats.Round3(score)
	a.Consistency.ConsistencyLevel = consistencyLevel(score)

	a.Insights = insights(agentName, a)
	return a
}

func consistencyLevel(score float64) string {
	switch {
	case score <= highConsistencyMax:
		return "high"
	case score <= mediumConsistencyMax:
		return "medium"
	default:
		return "low"
	}
}

// commonSequences counts adjacent transitions between distinct
// operations ("A -> B") and keeps the most frequent ones. Selection is
// deterministic: descending count, ties broken by discovery order.
func commonSequences(traces []model.Trace) map[string]int {
	counts := map[string]int{}
	var order []string
	for i := 1; i < len(traces); i++ {
		prev, cur := traces[i-1].Operation, traces[i].Operation
		if prev == cur {
			continue
		}
		key := prev + " -> " + cur
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}

	rank := make(map[string]int, len(order))
	for i, k := range order {
		rank[k] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return rank[order[i]] < rank[order[j]]
	})

	top := map[string]int{}
	for i, k := range order {
		if i >= maxCommonSequences {
			break
		}
		top[k] = counts[k]
	}
	return top
}

// timingPatterns buckets traces by UTC hour of day ("00".."23").
func timingPatterns(traces []model.Trace) map[string]model.TimingBucket {
	type acc struct {
		count int
		total float64
	}
	hours := map[string]*acc{}
	for _, t := range traces {
		key := fmt.Sprintf("%02d", t.CreatedAt.UTC().Hour())
		a, ok := hours[key]
		if !ok {
			a = &acc{}
			hours[key] = a
		}
		a.count++
		a.total += t.DurationMs
	}

	out := make(map[string]model.TimingBucket, len(hours))
	for key, a := range hours {
		out[key] = model.TimingBucket{
			Count:       a.count,
			AvgDuration: stats.Round3(a.total / float64(a.count)),
		}
	}
	return out
}

// errorPatterns counts failure classifiers over error traces.
func errorPatterns(traces []model.Trace) map[string]int {
	out := map[string]int{}
	for _, t := range traces {
		if t.Status != model.TraceStatusError {
			continue
		}
		out[t.ErrorClass()]++
	}
	return out
}

// consistencyWording maps a consistency level to the parenthetical used
// in the insight template.
var consistencyWording = map[string]string{
	"high":   "predictable",
	"medium": "mixed",
	"low":    "variable",
}

// insights renders the fixed template table. Every line is reproducible
// from the numeric fields it quotes; no free-form interpolation.
func insights(agentName string, a Analysis) []string {
	var out []string

	if err, count := topError(a.Errors); count > 0 {
		out = append(out, fmt.Sprintf("Most common error: %s", err))
	}

	if a.Consistency.TotalOperations > 0 {
		level := a.Consistency.ConsistencyLevel
		out = append(out, fmt.Sprintf("Agent %s shows %s behavioral consistency (%s)",
			agentName, level, consistencyWording[level]))
	}

	if hour, bucket, ok := peakHour(a.Timing); ok {
		out = append(out, fmt.Sprintf("Peak activity observed at %s:00 with %d operations",
			hour, bucket.Count))
	}

	if a.Sequence.TotalOperations > 0 {
		out = append(out, fmt.Sprintf("Average response time is %s",
			durationText(a.Sequence.AverageDuration)))
	}

	return out
}

// topError picks the most frequent error classifier; ties are broken by
// lexicographic order so repeated calls agree.
func topError(errors map[string]int) (string, int) {
	var keys []string
	for k := range errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestCount := "", 0
	for _, k := range keys {
		if errors[k] > bestCount {
			best, bestCount = k, errors[k]
		}
	}
	return best, bestCount
}

// peakHour picks the busiest hour bucket; ties are broken by the
// earliest hour.
func peakHour(timing map[string]model.TimingBucket) (string, model.TimingBucket, bool) {
	var keys []string
	for k := range timing {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var bestKey string
	var best model.TimingBucket
	for _, k := range keys {
		if timing[k].Count > best.Count {
			bestKey, best = k, timing[k]
		}
	}
	return bestKey, best, bestKey != ""
}

// durationText formats a millisecond duration for insight text.
func durationText(ms float64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%.0fms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1f seconds", ms/1000)
	default:
		return fmt.Sprintf("%.1f minutes", ms/60_000)
	}
}
