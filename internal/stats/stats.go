// Package stats provides the statistical primitives used by the
// aggregation views: sample summaries, percentage shares, score
// rounding, and quality bucket classification.
//
// All functions are pure reductions over their inputs. Empty samples
// yield zero-valued results; no function returns NaN or Inf.
package stats

import (
	"math"
	"sort"

	"github.com/ashita-ai/mieru/internal/model"
)

// Summary computes the standard statistics for a sample. The population
// standard deviation is used (divide by n, not n-1). An empty sample
// yields all zeros.
func Summary(sample []float64) model.ScoreSummary {
	if len(sample) == 0 {
		return model.ScoreSummary{}
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}

	return model.ScoreSummary{
		Average: mean,
		Median:  median(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		StdDev:  math.Sqrt(sqDiff / float64(len(sorted))),
	}
}

// median expects a sorted, non-empty slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	var sum float64
	for _, v := range sample {
		sum += v
	}
	return sum / float64(len(sample))
}

// Share returns part/whole, or 0 when whole is not positive.
func Share(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole
}

// Round3 rounds to three decimal places, the precision every score
// field is reported at (0.9511 → 0.951).
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Round4 rounds to four decimal places. Rate fields (success_rate,
// average_quality_score) are reported at this precision (65/68 → 0.9559).
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Bucket is one of the five ordered quality buckets.
type Bucket string

const (
	BucketExcellent        Bucket = "excellent"
	BucketGood             Bucket = "good"
	BucketAcceptable       Bucket = "acceptable"
	BucketNeedsImprovement Bucket = "needs_improvement"
	BucketPoor             Bucket = "poor"
)

// Classify maps a quality score to exactly one bucket using inclusive
// lower bounds: ≥0.9 excellent, ≥0.8 good, ≥0.6 acceptable, >0
// needs_improvement, otherwise poor. Scores of exactly 0 (including
// traces recorded without a score) land in poor and are never dropped
// from totals.
func Classify(score float64) Bucket {
	switch {
	case score >= 0.9:
		return BucketExcellent
	case score >= 0.8:
		return BucketGood
	case score >= 0.6:
		return BucketAcceptable
	case score > 0:
		return BucketNeedsImprovement
	default:
		return BucketPoor
	}
}

// Distribution buckets a sample of quality scores. The five counts
// partition the sample exactly.
func Distribution(scores []float64) model.QualityDistribution {
	var d model.QualityDistribution
	for _, s := range scores {
		switch Classify(s) {
		case BucketExcellent:
			d.Excellent++
		case BucketGood:
			d.Good++
		case BucketAcceptable:
			d.Acceptable++
		case BucketNeedsImprovement:
			d.NeedsImprovement++
		case BucketPoor:
			d.Poor++
		}
	}
	return d
}
