// Package tasks executes user-submitted tasks asynchronously and records
// an execution trace per step, so task activity feeds the same aggregates
// as any other agent work.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/storage"
	"github.com/ashita-ai/mieru/internal/telemetry"
)

// Options configures a Runner.
type Options struct {
	QueueSize     int
	Workers       int
	SweepInterval time.Duration // how often pending tasks are requeued
}

// Runner accepts tasks, persists them, and executes them on a worker
// pool. Tasks that cannot be enqueued stay pending and are picked up by
// the periodic sweep, so a full queue delays work instead of losing it.
type Runner struct {
	store  storage.Store
	logger *slog.Logger
	opts   Options

	// onTraceRecorded runs after each trace insert. The server wires
	// this to aggregate cache invalidation.
	onTraceRecorded func(model.Trace)

	queue      chan uuid.UUID
	wg         sync.WaitGroup
	cancelLoop context.CancelFunc

	completed atomic.Int64
	failed    atomic.Int64

	now func() time.Time
}

// NewRunner creates a task runner. onTraceRecorded may be nil.
func NewRunner(store storage.Store, logger *slog.Logger, opts Options, onTraceRecorded func(model.Trace)) *Runner {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Runner{
		store:           store,
		logger:          logger,
		opts:            opts,
		onTraceRecorded: onTraceRecorded,
		queue:           make(chan uuid.UUID, opts.QueueSize),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the worker pool and the pending sweep, and registers
// OTEL metrics. Call Drain to stop.
func (r *Runner) Start(ctx context.Context) {
	r.registerMetrics()

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel

	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(loopCtx)
	}

	r.wg.Add(1)
	go r.sweep(loopCtx)
}

// Drain stops the workers and waits for in-flight tasks to finish.
// Queued but unstarted tasks remain pending and are resumed by the
// sweep after restart.
func (r *Runner) Drain(ctx context.Context) {
	if r.cancelLoop != nil {
		r.cancelLoop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("tasks: drain timed out waiting for workers")
	}
}

// Create validates and persists a new pending task, then tries to
// enqueue it for immediate execution.
func (r *Runner) Create(ctx context.Context, req model.CreateTaskRequest) (model.Task, error) {
	if err := model.ValidateCreateTask(req); err != nil {
		return model.Task{}, fmt.Errorf("tasks: validate: %w", err)
	}

	now := r.now()
	task := model.Task{
		ID:        uuid.New(),
		TaskType:  req.TaskType,
		Status:    model.TaskStatusPending,
		InputData: req.InputData,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyParameters(&task, req.Parameters)

	if err := r.store.CreateTask(ctx, task); err != nil {
		return model.Task{}, fmt.Errorf("tasks: create: %w", err)
	}

	select {
	case r.queue <- task.ID:
	default:
		r.logger.Warn("tasks: queue full, task deferred to sweep", "task_id", task.ID)
	}

	return task, nil
}

// applyParameters folds optional creation parameters into input_data so
// the executor and later readers see one payload.
func applyParameters(task *model.Task, p model.TaskParameters) {
	if p.MaxLength != nil {
		task.InputData["max_length"] = *p.MaxLength
	}
	if p.TargetLanguage != nil {
		task.InputData["target_language"] = *p.TargetLanguage
	}
	if len(p.Categories) > 0 {
		task.InputData["categories"] = p.Categories
	}
	if p.Format != nil {
		task.InputData["format"] = *p.Format
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.run(ctx, id)
		}
	}
}

// sweep periodically requeues tasks still pending, covering queue
// overflow and tasks left behind by a previous process.
func (r *Runner) sweep(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := r.store.ListPendingTasks(ctx, r.opts.QueueSize)
			if err != nil {
				r.logger.Error("tasks: sweep list pending", "error", err)
				continue
			}
			for _, task := range pending {
				select {
				case r.queue <- task.ID:
				default:
				}
			}
		}
	}
}

// run executes a single task. A worker may receive the same id twice
// (create path plus sweep), so the claim is a conditional store write
// and only the winner executes.
func (r *Runner) run(ctx context.Context, id uuid.UUID) {
	task, err := r.store.ClaimPendingTask(ctx, id, r.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Already claimed by another worker, or deleted.
			return
		}
		r.logger.Error("tasks: claim task", "task_id", id, "error", err)
		return
	}

	result, quality, err := r.execute(ctx, task)
	task.UpdatedAt = r.now()
	if err != nil {
		msg := err.Error()
		task.Status = model.TaskStatusFailed
		task.Error = &msg
		r.failed.Add(1)
		r.logger.Error("tasks: execution failed", "task_id", id, "task_type", task.TaskType, "error", err)
	} else {
		task.Status = model.TaskStatusCompleted
		task.Result = result
		task.QualityScore = &quality
		r.completed.Add(1)
		r.logger.Info("tasks: completed", "task_id", id, "task_type", task.TaskType, "quality_score", quality)
	}

	if err := r.store.UpdateTask(ctx, task); err != nil {
		r.logger.Error("tasks: final update", "task_id", id, "error", err)
	}
}

// execute runs the task's steps, recording one trace per step, and
// returns the synthesized result and overall quality score.
func (r *Runner) execute(ctx context.Context, task model.Task) (map[string]any, float64, error) {
	text, _ := task.InputData["text"].(string)
	steps := stepsFor(task.TaskType)

	var qualitySum float64
	for i, step := range steps {
		quality := stepQuality(task.ID, step)
		qualitySum += quality

		trace := r.buildStepTrace(task, step, quality, text, i == len(steps)-1)
		if err := r.store.InsertTrace(ctx, trace); err != nil {
			return nil, 0, fmt.Errorf("tasks: record step trace: %w", err)
		}
		if r.onTraceRecorded != nil {
			r.onTraceRecorded(trace)
		}
	}

	overall := round2(qualitySum / float64(len(steps)))
	result := synthesizeResult(task, text, overall)
	return result, overall, nil
}

// buildStepTrace produces the execution trace for one step. Scores and
// durations derive from a hash of the task id and step name, so reruns
// of the same task are reproducible.
func (r *Runner) buildStepTrace(task model.Task, step string, quality float64, text string, last bool) model.Trace {
	now := r.now()
	taskID := task.ID
	trace := model.Trace{
		ID:           uuid.New(),
		TaskID:       &taskID,
		AgentName:    agentFor(task.TaskType),
		Operation:    step,
		Status:       model.TraceStatusSuccess,
		DurationMs:   stepDuration(task.ID, step),
		QualityScore: quality,
		CreatedAt:    now,
		Decisions: []model.Decision{{
			DecisionType:  step,
			Quality:       quality,
			ContextLength: len(text),
			Rationale:     fmt.Sprintf("executed %s for %s task", step, task.TaskType),
		}},
		Events: []model.Event{
			{EventType: "step_started", Timestamp: now, Data: map[string]any{"step": step}},
			{EventType: "step_completed", Timestamp: now, Data: map[string]any{"step": step}},
		},
	}
	if last {
		trace.Observations = []model.Observation{{
			ObservationType: "self_evaluation",
			Content:         fmt.Sprintf("%s output meets expected structure", task.TaskType),
			Confidence:      quality,
		}}
	}
	return trace
}

func stepsFor(taskType model.TaskType) []string {
	switch taskType {
	case model.TaskTypeSummarize:
		return []string{"validate_input", "generate_summary", "evaluate_output"}
	case model.TaskTypeAnalyze:
		return []string{"validate_input", "run_analysis", "evaluate_output"}
	case model.TaskTypeClassify:
		return []string{"validate_input", "classify_content", "evaluate_output"}
	case model.TaskTypeExtract:
		return []string{"validate_input", "extract_fields", "evaluate_output"}
	case model.TaskTypeTranslate:
		return []string{"validate_input", "translate_text", "evaluate_output"}
	default:
		return []string{"validate_input", "process", "evaluate_output"}
	}
}

func agentFor(taskType model.TaskType) string {
	return string(taskType) + "_agent"
}

// synthesizeResult builds the task result payload from the input.
func synthesizeResult(task model.Task, text string, quality float64) map[string]any {
	switch task.TaskType {
	case model.TaskTypeSummarize:
		maxLen := 200
		if v := intFromAny(task.InputData["max_length"]); v > 0 {
			maxLen = v
		}
		return map[string]any{
			"summary":     truncate(text, maxLen),
			"input_chars": len(text),
		}
	case model.TaskTypeAnalyze:
		words := len(strings.Fields(text))
		sentiments := []string{"positive", "neutral", "negative"}
		return map[string]any{
			"word_count": words,
			"sentiment":  sentiments[hashOf(task.ID.String(), "sentiment")%uint64(len(sentiments))],
		}
	case model.TaskTypeClassify:
		category := "general"
		if cats := stringsFromAny(task.InputData["categories"]); len(cats) > 0 {
			category = cats[hashOf(task.ID.String(), "category")%uint64(len(cats))]
		}
		return map[string]any{
			"category":   category,
			"confidence": quality,
		}
	case model.TaskTypeExtract:
		items := firstWords(text, 5)
		return map[string]any{
			"items": items,
			"count": len(items),
		}
	case model.TaskTypeTranslate:
		lang := "en"
		if v, ok := task.InputData["target_language"].(string); ok && v != "" {
			lang = v
		}
		return map[string]any{
			"translated_text": fmt.Sprintf("[%s] %s", lang, truncate(text, 500)),
			"target_language": lang,
		}
	default:
		return map[string]any{}
	}
}

// stepQuality maps a task/step pair to a stable score in [0.70, 1.00).
func stepQuality(taskID uuid.UUID, step string) float64 {
	return 0.70 + 0.30*unitFloat(hashOf(taskID.String(), step, "quality"))
}

// stepDuration maps a task/step pair to a stable duration in [50, 500) ms.
func stepDuration(taskID uuid.UUID, step string) float64 {
	return 50 + 450*unitFloat(hashOf(taskID.String(), step, "duration"))
}

func hashOf(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func unitFloat(h uint64) float64 {
	return float64(h%10_000) / 10_000
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// intFromAny reads an int that may have gone through a JSON round trip.
func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// stringsFromAny reads a string slice that may have gone through a JSON
// round trip.
func stringsFromAny(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// truncate shortens s to at most n bytes, backing up to the nearest
// rune boundary so multi-byte text is never cut mid-rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func firstWords(s string, n int) []string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// QueueDepth returns the number of tasks waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.queue)
}

func (r *Runner) registerMetrics() {
	meter := telemetry.Meter("mieru/tasks")

	_, _ = meter.Int64ObservableGauge("mieru.tasks.queue_depth",
		metric.WithDescription("Tasks waiting for a worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.QueueDepth()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("mieru.tasks.completed_total",
		metric.WithDescription("Tasks completed since start"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.completed.Load())
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("mieru.tasks.failed_total",
		metric.WithDescription("Tasks failed since start"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.failed.Load())
			return nil
		}),
	)
}
