// Package aggregate computes the dashboard read views over the trace
// store. Every view is a side-effect-free reduction over the traces in
// the requested time window; unknown agents yield zero-valued
// aggregates rather than errors so the dashboard is never blocked.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/mieru/internal/aggcache"
	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/service/behavior"
	"github.com/ashita-ai/mieru/internal/service/recommend"
	"github.com/ashita-ai/mieru/internal/stats"
)

// Validation errors. These are caller contract violations and map to
// client errors at the HTTP layer, before any aggregation work begins.
var (
	ErrInvalidWindow  = errors.New("aggregate: time_window_hours must be positive")
	ErrInvalidDays    = errors.New("aggregate: days must be between 1 and 365")
	ErrInvalidGroupBy = errors.New("aggregate: unknown group_by dimension")
)

// maxTrendDays bounds the performance-trends window.
const maxTrendDays = 365

// TraceStore is the read interface the aggregator requires. ListTraces
// returns traces created at or after since, in chronological order,
// with children loaded; agentName "" means all agents. The returned
// slice must reflect a consistent snapshot: a trace's children appear
// atomically or the trace does not appear at all.
type TraceStore interface {
	ListTraces(ctx context.Context, since time.Time, agentName string) ([]model.Trace, error)
}

// Service computes the read views. It is stateless apart from an
// optional snapshot cache and is safe for concurrent use.
type Service struct {
	store  TraceStore
	cache  *aggcache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// New creates an aggregation service. cache may be nil to disable
// snapshot caching.
func New(store TraceStore, cache *aggcache.Cache, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// InvalidateCache drops all cached snapshots. Ingest paths call this
// after every stored trace.
func (s *Service) InvalidateCache() {
	s.cache.InvalidateAll()
}

func (s *Service) fetch(ctx context.Context, windowHours int, agentName string) ([]model.Trace, error) {
	if windowHours <= 0 {
		return nil, ErrInvalidWindow
	}
	since := s.now().UTC().Add(-time.Duration(windowHours) * time.Hour)
	traces, err := s.store.ListTraces(ctx, since, agentName)
	if err != nil {
		return nil, fmt.Errorf("aggregate: list traces: %w", err)
	}
	return traces, nil
}

// AgentMetrics computes the single-agent roll-up for the window.
func (s *Service) AgentMetrics(ctx context.Context, agentName string, windowHours int) (model.AgentMetrics, error) {
	key := aggcache.Key{View: "agent-metrics", Agent: agentName, WindowHours: windowHours}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.AgentMetrics), nil
	}

	traces, err := s.fetch(ctx, windowHours, agentName)
	if err != nil {
		return model.AgentMetrics{}, err
	}

	m := buildAgentMetrics(agentName, traces)
	s.cache.Put(key, m)
	return m, nil
}

// buildAgentMetrics is the pure reduction behind AgentMetrics. traces
// must be chronological and belong to agentName.
func buildAgentMetrics(agentName string, traces []model.Trace) model.AgentMetrics {
	m := model.AgentMetrics{
		AgentName:        agentName,
		TotalTraces:      len(traces),
		ErrorTypes:       map[string]int{},
		PerformanceTrend: model.TrendStable,
		Recommendations:  []string{},
	}

	var qualities, durations, decisionQualities []float64
	successes, totalDecisions := 0, 0
	for _, t := range traces {
		qualities = append(qualities, t.QualityScore)
		durations = append(durations, t.DurationMs)
		if t.Status == model.TraceStatusSuccess {
			successes++
		} else {
			m.FailedTraces++
			m.ErrorTypes[t.ErrorClass()]++
		}
		totalDecisions += len(t.Decisions)
		for _, d := range t.Decisions {
			decisionQualities = append(decisionQualities, d.Quality)
		}
	}

	m.SuccessRate = stats.Round4(stats.Share(float64(successes), float64(len(traces))))
	m.AverageQualityScore = stats.Round4(stats.Mean(qualities))
	m.AverageDurationMs = stats.Round3(stats.Mean(durations))
	m.AverageDecisionsPerTrace = stats.Round4(stats.Share(float64(totalDecisions), float64(len(traces))))
	// Only traces carrying decisions contribute here; an agent that
	// never records decisions reports 0, not a diluted average.
	m.AverageDecisionQuality = stats.Round4(stats.Mean(decisionQualities))
	m.QualityDistribution = stats.Distribution(qualities)
	m.PerformanceTrend = classifyTrend(qualities)
	return m
}

// groupKeyFor returns the key extractor for a grouping dimension.
// Dimensions are additive: register a new extractor here to support a
// new group_by value.
func groupKeyFor(groupBy string) (func(model.Trace) string, bool) {
	switch groupBy {
	case "operation":
		return func(t model.Trace) string { return t.Operation }, true
	case "agent":
		return func(t model.Trace) string { return t.AgentName }, true
	case "hour":
		return func(t model.Trace) string { return fmt.Sprintf("%02d", t.CreatedAt.UTC().Hour()) }, true
	default:
		return nil, false
	}
}

// QualityMetrics groups the window's traces by the given dimension.
func (s *Service) QualityMetrics(ctx context.Context, groupBy string, windowHours int) (model.QualityMetrics, error) {
	keyFor, ok := groupKeyFor(groupBy)
	if !ok {
		return model.QualityMetrics{}, ErrInvalidGroupBy
	}

	cacheKey := aggcache.Key{View: "quality-metrics", WindowHours: windowHours, GroupBy: groupBy}
	if v, ok := s.cache.Get(cacheKey); ok {
		return v.(model.QualityMetrics), nil
	}

	traces, err := s.fetch(ctx, windowHours, "")
	if err != nil {
		return model.QualityMetrics{}, err
	}

	qm := buildQualityMetrics(groupBy, keyFor, traces, windowHours)
	s.cache.Put(cacheKey, qm)
	return qm, nil
}

func buildQualityMetrics(groupBy string, keyFor func(model.Trace) string, traces []model.Trace, windowHours int) model.QualityMetrics {
	qm := model.QualityMetrics{
		GroupBy:         groupBy,
		TimeWindowHours: windowHours,
		TotalTraces:     len(traces),
		Groups:          map[string]model.QualityGroup{},
	}

	grouped := map[string][]model.Trace{}
	var allQualities []float64
	for _, t := range traces {
		key := keyFor(t)
		grouped[key] = append(grouped[key], t)
		allQualities = append(allQualities, t.QualityScore)
	}

	for key, group := range grouped {
		var qualities []float64
		successes := 0
		for _, t := range group {
			qualities = append(qualities, t.QualityScore)
			if t.Status == model.TraceStatusSuccess {
				successes++
			}
		}
		sum := stats.Summary(qualities)
		qm.Groups[key] = model.QualityGroup{
			TraceCount:          len(group),
			AverageQuality:      stats.Round4(sum.Average),
			MinQuality:          stats.Round4(sum.Min),
			MaxQuality:          stats.Round4(sum.Max),
			MedianQuality:       stats.Round4(sum.Median),
			SuccessRate:         stats.Round4(stats.Share(float64(successes), float64(len(group)))),
			QualityDistribution: stats.Distribution(qualities),
		}
	}

	overall := stats.Summary(allQualities)
	qm.OverallMetrics = model.ScoreSummary{
		Average: stats.Round4(overall.Average),
		Median:  stats.Round4(overall.Median),
		Min:     stats.Round4(overall.Min),
		Max:     stats.Round4(overall.Max),
		StdDev:  stats.Round4(overall.StdDev),
	}
	return qm
}

// DecisionAnalytics computes the window-wide decision roll-up.
func (s *Service) DecisionAnalytics(ctx context.Context, windowHours int) (model.DecisionAnalytics, error) {
	key := aggcache.Key{View: "decision-analytics", WindowHours: windowHours}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.DecisionAnalytics), nil
	}

	traces, err := s.fetch(ctx, windowHours, "")
	if err != nil {
		return model.DecisionAnalytics{}, err
	}

	da := buildDecisionAnalytics(traces, windowHours)
	s.cache.Put(key, da)
	return da, nil
}

func buildDecisionAnalytics(traces []model.Trace, windowHours int) model.DecisionAnalytics {
	da := model.DecisionAnalytics{
		TimeWindowHours:      windowHours,
		DecisionTypeAnalysis: map[string]model.DecisionTypeStats{},
	}

	type typeAcc struct {
		count   int
		quality float64
	}
	byType := map[string]*typeAcc{}

	var allQualities, contextLengths []float64
	var successQualities, failedQualities []float64
	for _, t := range traces {
		for _, d := range t.Decisions {
			da.TotalDecisions++
			allQualities = append(allQualities, d.Quality)
			contextLengths = append(contextLengths, float64(d.ContextLength))
			if t.Status == model.TraceStatusSuccess {
				successQualities = append(successQualities, d.Quality)
			} else {
				failedQualities = append(failedQualities, d.Quality)
			}
			acc, ok := byType[d.DecisionType]
			if !ok {
				acc = &typeAcc{}
				byType[d.DecisionType] = acc
			}
			acc.count++
			acc.quality += d.Quality
		}
	}

	// Percentages are emitted at full precision so they sum to 1 within
	// floating tolerance across the partition; display rounding is the
	// client's concern.
	for decType, acc := range byType {
		da.DecisionTypeAnalysis[decType] = model.DecisionTypeStats{
			Count:          acc.count,
			AverageQuality: stats.Round4(acc.quality / float64(acc.count)),
			Percentage:     stats.Share(float64(acc.count), float64(da.TotalDecisions)),
		}
	}

	da.AverageDecisionsPerTrace = stats.Round4(stats.Share(float64(da.TotalDecisions), float64(len(traces))))
	da.AverageDecisionQuality = stats.Round4(stats.Mean(allQualities))
	da.AverageContextLength = stats.Round3(stats.Mean(contextLengths))
	da.QualityDistribution = stats.Distribution(allQualities)

	successAvg := stats.Round4(stats.Mean(successQualities))
	failedAvg := stats.Round4(stats.Mean(failedQualities))
	da.SuccessCorrelation = model.SuccessCorrelation{
		SuccessfulTraceDecisionsAvgQuality: successAvg,
		FailedTraceDecisionsAvgQuality:     failedAvg,
		QualityDifference:                  stats.Round4(successAvg - failedAvg),
	}
	return da
}

// selfEvaluationType marks observations recorded by an agent about its
// own output.
const selfEvaluationType = "self_evaluation"

// AgentInsights computes the per-agent narrative roll-up.
func (s *Service) AgentInsights(ctx context.Context, agentName string, windowHours int) (model.AgentInsights, error) {
	key := aggcache.Key{View: "agent-insights", Agent: agentName, WindowHours: windowHours}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.AgentInsights), nil
	}

	traces, err := s.fetch(ctx, windowHours, agentName)
	if err != nil {
		return model.AgentInsights{}, err
	}

	ai := model.AgentInsights{
		AgentName:        agentName,
		BehaviorPatterns: []string{},
		Recommendations:  []string{},
		GeneratedAt:      s.now().UTC(),
		TimeWindowHours:  windowHours,
	}

	var qualities, decisionQualities, confidences []float64
	for _, t := range traces {
		qualities = append(qualities, t.QualityScore)
		ai.DecisionCount += len(t.Decisions)
		for _, d := range t.Decisions {
			decisionQualities = append(decisionQualities, d.Quality)
		}
		ai.ObservationCount += len(t.Observations)
		for _, o := range t.Observations {
			confidences = append(confidences, o.Confidence)
			if o.ObservationType == selfEvaluationType {
				ai.SelfEvaluationCount++
			}
		}
	}

	ai.AverageDecisionQuality = stats.Round4(stats.Mean(decisionQualities))
	ai.AverageQualityScore = stats.Round4(stats.Mean(qualities))
	ai.PerformanceTrend = classifyTrend(qualities)

	conf := stats.Summary(confidences)
	ai.ConfidenceDistribution = model.ConfidenceDistribution{
		Average: stats.Round4(conf.Average),
		Min:     stats.Round4(conf.Min),
		Max:     stats.Round4(conf.Max),
	}

	if len(traces) > 0 {
		analysis := behavior.Analyze(agentName, traces)
		ai.BehaviorPatterns = analysis.Insights
	}

	s.cache.Put(key, ai)
	return ai, nil
}

// AgentRecommendations runs the rule engine over the agent's metrics.
func (s *Service) AgentRecommendations(ctx context.Context, agentName string, windowHours int) (model.AgentRecommendations, error) {
	key := aggcache.Key{View: "agent-recommendations", Agent: agentName, WindowHours: windowHours}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.AgentRecommendations), nil
	}

	m, err := s.AgentMetrics(ctx, agentName, windowHours)
	if err != nil {
		return model.AgentRecommendations{}, err
	}

	ar := recommend.Summary(m, windowHours)
	s.cache.Put(key, ar)
	return ar, nil
}

// BehaviorPatterns computes the behavioral view for one agent.
func (s *Service) BehaviorPatterns(ctx context.Context, agentName string, windowHours int) (model.BehaviorPatterns, error) {
	key := aggcache.Key{View: "behavior-patterns", Agent: agentName, WindowHours: windowHours}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.BehaviorPatterns), nil
	}

	traces, err := s.fetch(ctx, windowHours, agentName)
	if err != nil {
		return model.BehaviorPatterns{}, err
	}

	bp := model.BehaviorPatterns{
		AgentName:             agentName,
		TimeWindowHours:       windowHours,
		TotalTracesAnalyzed:   len(traces),
		OperationSequences:    map[string]model.OperationSequence{},
		BehavioralConsistency: map[string]model.BehavioralConsistency{},
	}

	if agentName != "" {
		analysis := behavior.Analyze(agentName, traces)
		bp.ErrorPatterns = analysis.Errors
		bp.TimingPatterns = analysis.Timing
		bp.Insights = analysis.Insights
		if len(traces) > 0 {
			bp.OperationSequences[agentName] = analysis.Sequence
			bp.BehavioralConsistency[agentName] = analysis.Consistency
		}
	} else {
		// Without an agent filter the view is keyed per agent.
		// Sequences and consistency are order-sensitive, so each agent
		// is analyzed on its own timeline; transitions never cross
		// agent boundaries. The timing and error histograms are
		// order-free counts and stay window-wide.
		whole := behavior.Analyze("", traces)
		bp.ErrorPatterns = whole.Errors
		bp.TimingPatterns = whole.Timing
		bp.Insights = []string{}

		byAgent := map[string][]model.Trace{}
		for _, tr := range traces {
			byAgent[tr.AgentName] = append(byAgent[tr.AgentName], tr)
		}
		names := make([]string, 0, len(byAgent))
		for name := range byAgent {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			analysis := behavior.Analyze(name, byAgent[name])
			bp.OperationSequences[name] = analysis.Sequence
			bp.BehavioralConsistency[name] = analysis.Consistency
			bp.Insights = append(bp.Insights, analysis.Insights...)
		}
	}
	if bp.Insights == nil {
		bp.Insights = []string{}
	}

	s.cache.Put(key, bp)
	return bp, nil
}

// Summary computes the global roll-up across all agents. Per-agent
// metric reductions fan out on an errgroup; each works on its own
// partition of the snapshot, so there is no shared mutable state.
func (s *Service) Summary(ctx context.Context, windowHours int) (model.ObservabilitySummary, error) {
	key := aggcache.Key{View: "summary", WindowHours: windowHours}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.ObservabilitySummary), nil
	}

	traces, err := s.fetch(ctx, windowHours, "")
	if err != nil {
		return model.ObservabilitySummary{}, err
	}

	byAgent := map[string][]model.Trace{}
	for _, t := range traces {
		byAgent[t.AgentName] = append(byAgent[t.AgentName], t)
	}
	agents := make([]string, 0, len(byAgent))
	for name := range byAgent {
		agents = append(agents, name)
	}
	sort.Strings(agents)

	perAgent := make([]model.AgentMetrics, len(agents))
	g, _ := errgroup.WithContext(ctx)
	for i, name := range agents {
		g.Go(func() error {
			perAgent[i] = buildAgentMetrics(name, byAgent[name])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.ObservabilitySummary{}, fmt.Errorf("aggregate: summary fan-out: %w", err)
	}

	successes := 0
	var qualities []float64
	for _, t := range traces {
		if t.Status == model.TraceStatusSuccess {
			successes++
		}
		qualities = append(qualities, t.QualityScore)
	}

	opKey, _ := groupKeyFor("operation")
	sum := model.ObservabilitySummary{
		Summary: model.SummaryHeader{
			TimeWindowHours:    windowHours,
			GeneratedAt:        s.now().UTC(),
			AgentCount:         len(agents),
			TotalTraces:        len(traces),
			OverallSuccessRate: stats.Round4(stats.Share(float64(successes), float64(len(traces)))),
			OverallQuality:     stats.Round4(stats.Mean(qualities)),
		},
		AgentPerformance: map[string]model.AgentMetrics{},
		QualityOverview:  buildQualityMetrics("operation", opKey, traces, windowHours),
		DecisionInsights: buildDecisionAnalytics(traces, windowHours),
	}
	for i, name := range agents {
		sum.AgentPerformance[name] = perAgent[i]
	}
	sum.KeyInsights = keyInsights(sum)

	s.cache.Put(key, sum)
	return sum, nil
}

// PerformanceTrends computes the daily series for the trailing
// day-count window. Exactly days points are returned, ascending by
// date, with zero values on days that saw no traces.
func (s *Service) PerformanceTrends(ctx context.Context, days int) (model.PerformanceTrends, error) {
	if days <= 0 || days > maxTrendDays {
		return model.PerformanceTrends{}, ErrInvalidDays
	}

	key := aggcache.Key{View: "performance-trends", WindowHours: days * 24}
	if v, ok := s.cache.Get(key); ok {
		return v.(model.PerformanceTrends), nil
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	traces, err := s.store.ListTraces(ctx, start, "")
	if err != nil {
		return model.PerformanceTrends{}, fmt.Errorf("aggregate: list traces: %w", err)
	}

	type dayAcc struct {
		qualities []float64
		successes int
		total     int
	}
	byDay := map[string]*dayAcc{}
	for _, t := range traces {
		date := t.CreatedAt.UTC().Format("2006-01-02")
		acc, ok := byDay[date]
		if !ok {
			acc = &dayAcc{}
			byDay[date] = acc
		}
		acc.qualities = append(acc.qualities, t.QualityScore)
		acc.total++
		if t.Status == model.TraceStatusSuccess {
			acc.successes++
		}
	}

	pt := model.PerformanceTrends{Daily: make([]model.DailyPerformance, 0, days)}
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d).Format("2006-01-02")
		point := model.DailyPerformance{Date: date}
		if acc, ok := byDay[date]; ok {
			point.AvgQuality = stats.Round4(stats.Mean(acc.qualities))
			point.SuccessRate = stats.Round4(stats.Share(float64(acc.successes), float64(acc.total)))
		}
		pt.Daily = append(pt.Daily, point)
	}

	s.cache.Put(key, pt)
	return pt, nil
}
