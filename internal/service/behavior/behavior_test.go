package behavior

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mieru/internal/model"
)

func trace(op string, status model.TraceStatus, at time.Time, durationMs float64) model.Trace {
	return model.Trace{
		AgentName:  "decision_engine",
		Operation:  op,
		Status:     status,
		DurationMs: durationMs,
		CreatedAt:  at,
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := Analyze("ghost", nil)
	assert.Zero(t, a.Sequence.TotalOperations)
	assert.Zero(t, a.Sequence.SuccessRate)
	assert.Empty(t, a.Sequence.CommonSequences)
	assert.Empty(t, a.Timing)
	assert.Empty(t, a.Errors)
	assert.Empty(t, a.Insights)
}

func TestCommonSequences(t *testing.T) {
	base := time.Date(2026, 2, 13, 15, 0, 0, 0, time.UTC)
	var traces []model.Trace
	for i, op := range []string{"a", "b", "a", "b", "b", "c"} {
		traces = append(traces, trace(op, model.TraceStatusSuccess, base.Add(time.Duration(i)*time.Minute), 100))
	}

	a := Analyze("decision_engine", traces)
	// a->b twice, b->a once, b->c once; the repeated b is not a transition.
	assert.Equal(t, map[string]int{
		"a -> b": 2,
		"b -> a": 1,
		"b -> c": 1,
	}, a.Sequence.CommonSequences)
}

func TestCommonSequencesCapsAtTop(t *testing.T) {
	base := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)
	var traces []model.Trace
	// Seven distinct transitions, each once, plus x->y three times.
	ops := []string{"x", "y", "x", "y", "x", "y", "a", "b", "c", "d", "e", "f", "g"}
	for i, op := range ops {
		traces = append(traces, trace(op, model.TraceStatusSuccess, base.Add(time.Duration(i)*time.Second), 50))
	}

	a := Analyze("decision_engine", traces)
	require.Len(t, a.Sequence.CommonSequences, maxCommonSequences)
	assert.Equal(t, 3, a.Sequence.CommonSequences["x -> y"])
}

func TestConsistencyScore(t *testing.T) {
	base := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	var traces []model.Trace
	for i := 0; i < 68; i++ {
		traces = append(traces, trace("task_execution", model.TraceStatusSuccess, base.Add(time.Duration(i)*time.Minute), 100))
	}

	a := Analyze("decision_engine", traces)
	assert.Equal(t, 1, a.Consistency.UniqueOperations)
	assert.Equal(t, 68, a.Consistency.TotalOperations)
	assert.InDelta(t, 0.0147, a.Consistency.ConsistencyScore, 0.001)
	assert.Equal(t, "high", a.Consistency.ConsistencyLevel)
}

func TestConsistencyLevels(t *testing.T) {
	assert.Equal(t, "high", consistencyLevel(0.235))
	assert.Equal(t, "high", consistencyLevel(0.3))
	assert.Equal(t, "medium", consistencyLevel(0.45))
	assert.Equal(t, "medium", consistencyLevel(0.6))
	assert.Equal(t, "low", consistencyLevel(0.61))
	assert.Equal(t, "low", consistencyLevel(1.0))
}

func TestTimingPatterns(t *testing.T) {
	traces := []model.Trace{
		trace("op", model.TraceStatusSuccess, time.Date(2026, 2, 13, 8, 10, 0, 0, time.UTC), 100),
		trace("op", model.TraceStatusSuccess, time.Date(2026, 2, 13, 8, 40, 0, 0, time.UTC), 300),
		trace("op", model.TraceStatusSuccess, time.Date(2026, 2, 13, 15, 5, 0, 0, time.UTC), 500),
	}

	a := Analyze("decision_engine", traces)
	require.Len(t, a.Timing, 2)
	assert.Equal(t, model.TimingBucket{Count: 2, AvgDuration: 200}, a.Timing["08"])
	assert.Equal(t, model.TimingBucket{Count: 1, AvgDuration: 500}, a.Timing["15"])
}

func TestErrorPatternsAndInsights(t *testing.T) {
	base := time.Date(2026, 2, 13, 15, 0, 0, 0, time.UTC)
	errTrace := trace("llm_call", model.TraceStatusError, base, 38842)
	errTrace.Events = []model.Event{
		{EventType: model.ErrorEventType, Timestamp: base, Data: map[string]any{"error_type": "AttributeError"}},
	}
	traces := []model.Trace{
		errTrace,
		trace("llm_call", model.TraceStatusSuccess, base.Add(time.Minute), 38842),
		trace("llm_call", model.TraceStatusSuccess, base.Add(2*time.Minute), 38842),
	}

	a := Analyze("decision_engine", traces)
	assert.Equal(t, map[string]int{"AttributeError": 1}, a.Errors)

	require.Len(t, a.Insights, 4)
	assert.Equal(t, "Most common error: AttributeError", a.Insights[0])
	assert.Equal(t, "Agent decision_engine shows high behavioral consistency (predictable)", a.Insights[1])
	assert.Equal(t, "Peak activity observed at 15:00 with 3 operations", a.Insights[2])
	assert.Equal(t, "Average response time is 38.8 seconds", a.Insights[3])
}

func TestInsightsReproducible(t *testing.T) {
	base := time.Date(2026, 2, 13, 11, 0, 0, 0, time.UTC)
	var traces []model.Trace
	for i := 0; i < 20; i++ {
		traces = append(traces, trace(fmt.Sprintf("op_%d", i%4), model.TraceStatusSuccess, base.Add(time.Duration(i)*time.Minute), 250))
	}

	first := Analyze("decision_engine", traces)
	second := Analyze("decision_engine", traces)
	assert.Equal(t, first.Insights, second.Insights)
	assert.Equal(t, first.Sequence.CommonSequences, second.Sequence.CommonSequences)
}

func TestDurationText(t *testing.T) {
	assert.Equal(t, "250ms", durationText(250))
	assert.Equal(t, "38.8 seconds", durationText(38842))
	assert.Equal(t, "1.5 minutes", durationText(90_000))
}
