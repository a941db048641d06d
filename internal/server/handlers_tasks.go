package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/storage"
)

const recentTasksLimit = 50

// HandleCreateTask handles POST /api/tasks.
func (h *handlers) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "task execution is disabled")
		return
	}

	var req model.CreateTaskRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	task, err := h.runner.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// HandleGetTask handles GET /api/tasks/{id}.
func (h *handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid task id")
		return
	}

	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", "task_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// HandleRecentTasks handles GET /api/tasks/recent.
func (h *handlers) HandleRecentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListRecentTasks(r.Context(), recentTasksLimit)
	if err != nil {
		h.logger.Error("list recent tasks failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleTaskTraces handles GET /api/tasks/{id}/traces.
func (h *handlers) HandleTaskTraces(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid task id")
		return
	}

	// A task with no traces yet returns an empty list, but the task
	// itself must exist.
	if _, err := h.store.GetTask(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", "task_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load task")
		return
	}

	traces, err := h.store.ListTracesByTask(r.Context(), id)
	if err != nil {
		h.logger.Error("list task traces failed", "task_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list traces")
		return
	}
	if traces == nil {
		traces = []model.Trace{}
	}
	writeJSON(w, http.StatusOK, traces)
}

// HandleIngestTrace handles POST /api/traces. Agents push completed
// traces here; aggregates pick them up on the next cache miss.
func (h *handlers) HandleIngestTrace(w http.ResponseWriter, r *http.Request) {
	var trace model.Trace
	if err := decodeJSON(w, r, &trace, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	if trace.ID == uuid.Nil {
		trace.ID = uuid.New()
	}
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}

	if err := model.ValidateTrace(trace); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.store.InsertTrace(r.Context(), trace); err != nil {
		h.logger.Error("insert trace failed", "trace_id", trace.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to store trace")
		return
	}
	h.aggregator.InvalidateCache()
	h.fireTraceHooks(trace)

	writeJSON(w, http.StatusCreated, trace)
}

// fireTraceHooks notifies registered hooks without blocking the request.
func (h *handlers) fireTraceHooks(trace model.Trace) {
	if len(h.traceHooks) == 0 {
		return
	}
	hooks := h.traceHooks
	logger := h.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, hook := range hooks {
			if err := hook.OnTraceRecorded(ctx, trace); err != nil {
				logger.Warn("trace hook failed", "trace_id", trace.ID, "error", err)
			}
		}
	}()
}
