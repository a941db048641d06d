// Package storage provides the trace and task store for Mieru.
//
// Two implementations exist: PostgreSQL via pgxpool (the production
// store) and an embedded SQLite database for single-node and local
// development deployments. Both store a trace's child decisions,
// events, and observations on the trace row itself, so a trace and its
// children are visible to readers atomically or not at all.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mieru/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the persistence contract shared by both backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// InsertTrace stores a trace with its children atomically.
	InsertTrace(ctx context.Context, t model.Trace) error

	// ListTraces returns traces created at or after since, oldest
	// first, with children loaded. agentName "" means all agents.
	ListTraces(ctx context.Context, since time.Time, agentName string) ([]model.Trace, error)

	// ListTracesByTask returns the traces recorded for a task, oldest first.
	ListTracesByTask(ctx context.Context, taskID uuid.UUID) ([]model.Trace, error)

	// CreateTask stores a new task.
	CreateTask(ctx context.Context, task model.Task) error

	// GetTask returns a task by id, or ErrNotFound.
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)

	// UpdateTask persists status, result, quality_score, error, and
	// updated_at for an existing task.
	UpdateTask(ctx context.Context, task model.Task) error

	// ClaimPendingTask transitions a task from pending to running in a
	// single conditional write and returns the claimed task. When the
	// task does not exist or is no longer pending it returns
	// ErrNotFound, so at most one concurrent claimer wins.
	ClaimPendingTask(ctx context.Context, id uuid.UUID, now time.Time) (model.Task, error)

	// ListRecentTasks returns the newest tasks, newest first.
	ListRecentTasks(ctx context.Context, limit int) ([]model.Task, error)

	// ListPendingTasks returns tasks still in pending state, oldest
	// first. Used by the runner's requeue sweep.
	ListPendingTasks(ctx context.Context, limit int) ([]model.Task, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close()
}
