package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/storage"
)

// runStoreSuite exercises the Store contract. Both backends must pass
// it unchanged.
func runStoreSuite(t *testing.T, store storage.Store) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("list traces on empty store", func(t *testing.T) {
		traces, err := store.ListTraces(ctx, time.Now().UTC().Add(-time.Hour), "")
		require.NoError(t, err)
		assert.Empty(t, traces)
	})

	t.Run("trace round trip with children", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		taskID := uuid.New()
		trace := model.Trace{
			ID:           uuid.New(),
			TaskID:       &taskID,
			AgentName:    "decision_engine",
			Operation:    "decision_step",
			Status:       model.TraceStatusError,
			DurationMs:   12345.5,
			QualityScore: 0.42,
			CreatedAt:    now,
			Decisions: []model.Decision{{
				DecisionType:  "route",
				Quality:       0.8,
				ContextLength: 512,
				Rationale:     "picked the shorter path",
			}},
			Events: []model.Event{{
				EventType: model.ErrorEventType,
				Timestamp: now,
				Data:      map[string]any{"error_type": "AttributeError", "retries": 2.0},
			}},
			Observations: []model.Observation{{
				ObservationType: "self_evaluation",
				Content:         "output was partially wrong",
				Confidence:      0.3,
			}},
		}
		require.NoError(t, store.InsertTrace(ctx, trace))

		got, err := store.ListTracesByTask(ctx, taskID)
		require.NoError(t, err)
		require.Len(t, got, 1)

		loaded := got[0]
		assert.Equal(t, trace.ID, loaded.ID)
		require.NotNil(t, loaded.TaskID)
		assert.Equal(t, taskID, *loaded.TaskID)
		assert.Equal(t, model.TraceStatusError, loaded.Status)
		assert.Equal(t, 12345.5, loaded.DurationMs)
		assert.WithinDuration(t, now, loaded.CreatedAt, time.Microsecond)

		require.Len(t, loaded.Decisions, 1)
		assert.Equal(t, trace.Decisions[0], loaded.Decisions[0])

		require.Len(t, loaded.Events, 1)
		assert.Equal(t, model.ErrorEventType, loaded.Events[0].EventType)
		assert.Equal(t, "AttributeError", loaded.Events[0].Data["error_type"])
		assert.Equal(t, 2.0, loaded.Events[0].Data["retries"])

		require.Len(t, loaded.Observations, 1)
		assert.Equal(t, trace.Observations[0], loaded.Observations[0])

		assert.Equal(t, "AttributeError", loaded.ErrorClass())
	})

	t.Run("list traces filters and ordering", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Microsecond).Add(-10 * time.Minute)
		insert := func(agent string, offset time.Duration) {
			require.NoError(t, store.InsertTrace(ctx, model.Trace{
				ID:           uuid.New(),
				AgentName:    agent,
				Operation:    "op",
				Status:       model.TraceStatusSuccess,
				DurationMs:   1,
				QualityScore: 0.5,
				CreatedAt:    base.Add(offset),
			}))
		}
		insert("filter_a", 3*time.Minute)
		insert("filter_a", 1*time.Minute)
		insert("filter_b", 2*time.Minute)

		all, err := store.ListTraces(ctx, base, "")
		require.NoError(t, err)
		var inWindow []model.Trace
		for _, tr := range all {
			if tr.AgentName == "filter_a" || tr.AgentName == "filter_b" {
				inWindow = append(inWindow, tr)
			}
		}
		require.Len(t, inWindow, 3)
		for i := 1; i < len(inWindow); i++ {
			assert.False(t, inWindow[i].CreatedAt.Before(inWindow[i-1].CreatedAt))
		}

		onlyA, err := store.ListTraces(ctx, base, "filter_a")
		require.NoError(t, err)
		require.Len(t, onlyA, 2)
		for _, tr := range onlyA {
			assert.Equal(t, "filter_a", tr.AgentName)
		}

		// A since bound after the earliest trace excludes it.
		later, err := store.ListTraces(ctx, base.Add(90*time.Second), "filter_a")
		require.NoError(t, err)
		assert.Len(t, later, 1)
	})

	t.Run("task round trip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		task := model.Task{
			ID:        uuid.New(),
			TaskType:  model.TaskTypeSummarize,
			Status:    model.TaskStatusPending,
			InputData: map[string]any{"text": "hello", "max_length": 100.0},
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, store.CreateTask(ctx, task))

		loaded, err := store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, loaded.ID)
		assert.Equal(t, model.TaskTypeSummarize, loaded.TaskType)
		assert.Equal(t, model.TaskStatusPending, loaded.Status)
		assert.Equal(t, "hello", loaded.InputData["text"])
		assert.Nil(t, loaded.Result)
		assert.Nil(t, loaded.QualityScore)
		assert.Nil(t, loaded.Error)

		quality := 0.87
		loaded.Status = model.TaskStatusCompleted
		loaded.Result = map[string]any{"summary": "hi"}
		loaded.QualityScore = &quality
		loaded.UpdatedAt = now.Add(time.Second)
		require.NoError(t, store.UpdateTask(ctx, loaded))

		final, err := store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, final.Status)
		assert.Equal(t, "hi", final.Result["summary"])
		require.NotNil(t, final.QualityScore)
		assert.Equal(t, quality, *final.QualityScore)
	})

	t.Run("missing task is ErrNotFound", func(t *testing.T) {
		_, err := store.GetTask(ctx, uuid.New())
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = store.UpdateTask(ctx, model.Task{ID: uuid.New(), Status: model.TaskStatusFailed})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("claim pending task", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		task := model.Task{
			ID:        uuid.New(),
			TaskType:  model.TaskTypeAnalyze,
			Status:    model.TaskStatusPending,
			InputData: map[string]any{"text": "claim me"},
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, store.CreateTask(ctx, task))

		claimed, err := store.ClaimPendingTask(ctx, task.ID, now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusRunning, claimed.Status)
		assert.Equal(t, task.ID, claimed.ID)

		// A second claim loses: the task is no longer pending.
		_, err = store.ClaimPendingTask(ctx, task.ID, now.Add(2*time.Second))
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// Unknown ids are ErrNotFound too.
		_, err = store.ClaimPendingTask(ctx, uuid.New(), now)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("recent and pending task listings", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Microsecond).Add(time.Hour)
		mk := func(status model.TaskStatus, offset time.Duration) model.Task {
			task := model.Task{
				ID:        uuid.New(),
				TaskType:  model.TaskTypeAnalyze,
				Status:    status,
				InputData: map[string]any{},
				CreatedAt: base.Add(offset),
				UpdatedAt: base.Add(offset),
			}
			require.NoError(t, store.CreateTask(ctx, task))
			return task
		}
		oldest := mk(model.TaskStatusPending, 0)
		middle := mk(model.TaskStatusCompleted, time.Minute)
		newest := mk(model.TaskStatusPending, 2*time.Minute)

		recent, err := store.ListRecentTasks(ctx, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, newest.ID, recent[0].ID)
		assert.Equal(t, middle.ID, recent[1].ID)
		assert.Equal(t, oldest.ID, recent[2].ID)

		pending, err := store.ListPendingTasks(ctx, 10)
		require.NoError(t, err)
		ids := make([]uuid.UUID, 0, len(pending))
		for _, task := range pending {
			assert.Equal(t, model.TaskStatusPending, task.Status)
			ids = append(ids, task.ID)
		}
		assert.Contains(t, ids, oldest.ID)
		assert.Contains(t, ids, newest.ID)
		assert.NotContains(t, ids, middle.ID)
	})
}
