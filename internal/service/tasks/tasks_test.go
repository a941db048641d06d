package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/storage"
	"github.com/ashita-ai/mieru/internal/testutil"
)

func newTestStore(t *testing.T) *storage.SQLiteDB {
	t.Helper()
	store, err := storage.NewSQLite(context.Background(), ":memory:", testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func waitForStatus(t *testing.T, store storage.Store, id uuid.UUID, want model.TaskStatus) model.Task {
	t.Helper()
	var task model.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = store.GetTask(context.Background(), id)
		return err == nil && task.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	r := NewRunner(newTestStore(t), testutil.TestLogger(), Options{}, nil)

	tests := []struct {
		name string
		req  model.CreateTaskRequest
	}{
		{
			name: "missing type",
			req:  model.CreateTaskRequest{InputData: map[string]any{"text": "hi"}},
		},
		{
			name: "unknown type",
			req:  model.CreateTaskRequest{TaskType: "daydream", InputData: map[string]any{}},
		},
		{
			name: "missing input",
			req:  model.CreateTaskRequest{TaskType: model.TaskTypeSummarize},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}

func TestCreatePersistsPendingTask(t *testing.T) {
	store := newTestStore(t)
	r := NewRunner(store, testutil.TestLogger(), Options{}, nil)

	task, err := r.Create(context.Background(), model.CreateTaskRequest{
		TaskType:  model.TaskTypeAnalyze,
		InputData: map[string]any{"text": "the quick brown fox"},
	})
	require.NoError(t, err)

	stored, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, stored.Status)
	assert.Equal(t, model.TaskTypeAnalyze, stored.TaskType)
	assert.Equal(t, "the quick brown fox", stored.InputData["text"])
}

func TestRunnerExecutesTask(t *testing.T) {
	store := newTestStore(t)

	var invalidations atomic.Int64
	r := NewRunner(store, testutil.TestLogger(), Options{Workers: 2}, func(model.Trace) {
		invalidations.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Drain(context.Background())

	task, err := r.Create(ctx, model.CreateTaskRequest{
		TaskType:  model.TaskTypeSummarize,
		InputData: map[string]any{"text": "a long body of text that deserves a summary"},
	})
	require.NoError(t, err)

	done := waitForStatus(t, store, task.ID, model.TaskStatusCompleted)
	require.NotNil(t, done.QualityScore)
	assert.GreaterOrEqual(t, *done.QualityScore, 0.7)
	assert.LessOrEqual(t, *done.QualityScore, 1.0)
	assert.Contains(t, done.Result, "summary")
	assert.Nil(t, done.Error)

	traces, err := store.ListTracesByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, traces, 3)
	assert.Equal(t, int64(3), invalidations.Load())

	for _, tr := range traces {
		assert.Equal(t, "summarize_agent", tr.AgentName)
		assert.Equal(t, model.TraceStatusSuccess, tr.Status)
		require.NotNil(t, tr.TaskID)
		assert.Equal(t, task.ID, *tr.TaskID)
		require.Len(t, tr.Decisions, 1)
		assert.InDelta(t, tr.QualityScore, tr.Decisions[0].Quality, 1e-9)
	}

	assert.Equal(t, "validate_input", traces[0].Operation)
	assert.Equal(t, "generate_summary", traces[1].Operation)
	assert.Equal(t, "evaluate_output", traces[2].Operation)

	last := traces[2]
	require.Len(t, last.Observations, 1)
	assert.Equal(t, "self_evaluation", last.Observations[0].ObservationType)
}

func TestSweepRequeuesPendingTasks(t *testing.T) {
	store := newTestStore(t)

	// Persist a pending task directly, simulating one left behind by a
	// previous process.
	now := time.Now().UTC()
	orphan := model.Task{
		ID:        uuid.New(),
		TaskType:  model.TaskTypeClassify,
		Status:    model.TaskStatusPending,
		InputData: map[string]any{"text": "orphaned work", "categories": []string{"billing", "support"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateTask(context.Background(), orphan))

	r := NewRunner(store, testutil.TestLogger(), Options{Workers: 1, SweepInterval: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Drain(context.Background())

	done := waitForStatus(t, store, orphan.ID, model.TaskStatusCompleted)
	assert.Contains(t, []any{"billing", "support"}, done.Result["category"])
}

func TestResultShapesPerType(t *testing.T) {
	store := newTestStore(t)
	r := NewRunner(store, testutil.TestLogger(), Options{Workers: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Drain(context.Background())

	tests := []struct {
		taskType model.TaskType
		input    map[string]any
		wantKeys []string
	}{
		{model.TaskTypeAnalyze, map[string]any{"text": "one two three"}, []string{"word_count", "sentiment"}},
		{model.TaskTypeExtract, map[string]any{"text": "alpha beta gamma delta epsilon zeta"}, []string{"items", "count"}},
		{model.TaskTypeTranslate, map[string]any{"text": "hello", "target_language": "ja"}, []string{"translated_text", "target_language"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.taskType), func(t *testing.T) {
			task, err := r.Create(ctx, model.CreateTaskRequest{TaskType: tt.taskType, InputData: tt.input})
			require.NoError(t, err)

			done := waitForStatus(t, store, task.ID, model.TaskStatusCompleted)
			for _, key := range tt.wantKeys {
				assert.Contains(t, done.Result, key)
			}
		})
	}
}

func TestStepScoresAreDeterministic(t *testing.T) {
	id := uuid.MustParse("3f6f4a4e-0000-4000-8000-000000000001")

	assert.Equal(t, stepQuality(id, "generate_summary"), stepQuality(id, "generate_summary"))
	assert.Equal(t, stepDuration(id, "generate_summary"), stepDuration(id, "generate_summary"))
	assert.NotEqual(t, stepQuality(id, "validate_input"), stepQuality(id, "evaluate_output"))
}

func TestDuplicateDeliveryExecutesTaskOnce(t *testing.T) {
	// The create path and the sweep can both push the same id onto the
	// queue; the conditional claim must let only one worker execute.
	store := newTestStore(t)
	r := NewRunner(store, testutil.TestLogger(), Options{}, nil)

	task, err := r.Create(context.Background(), model.CreateTaskRequest{
		TaskType:  model.TaskTypeSummarize,
		InputData: map[string]any{"text": "the same id delivered twice"},
	})
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r.run(context.Background(), task.ID)
		}()
	}
	close(start)
	wg.Wait()

	traces, err := store.ListTracesByTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, traces, 3, "each pipeline step should run exactly once")

	done, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, done.Status)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short string untouched", in: "hello", n: 10, want: "hello"},
		{name: "ascii cut", in: "hello world", n: 5, want: "hello..."},
		{name: "multibyte cut mid rune", in: "日本語のテキスト", n: 4, want: "日..."},
		{name: "multibyte cut on boundary", in: "日本語", n: 6, want: "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
