package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/mieru/internal/model"
)

// SQLiteDB is the embedded single-node Store. It keeps the same schema
// shape as the PostgreSQL backend with JSON children on the trace row,
// but stores timestamps as RFC 3339 text and ids as text.
type SQLiteDB struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteDB)(nil)

// sqliteTimeLayout is RFC 3339 with fixed-width nanoseconds so that
// lexicographic ordering of the stored text matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS traces (
	id TEXT PRIMARY KEY,
	task_id TEXT,
	agent_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	status TEXT NOT NULL,
	duration_ms REAL NOT NULL,
	quality_score REAL NOT NULL,
	created_at TEXT NOT NULL,
	decisions TEXT NOT NULL,
	events TEXT NOT NULL,
	observations TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_created_at ON traces (created_at);
CREATE INDEX IF NOT EXISTS idx_traces_agent_created ON traces (agent_name, created_at);
CREATE INDEX IF NOT EXISTS idx_traces_task_id ON traces (task_id) WHERE task_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	task_type TEXT NOT NULL,
	status TEXT NOT NULL,
	input_data TEXT NOT NULL,
	result TEXT,
	quality_score REAL,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at);
`

// NewSQLite opens (or creates) an embedded database at path and applies
// the schema. Use ":memory:" for an in-process ephemeral store.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply sqlite schema: %w", err)
	}

	logger.Info("sqlite store ready", "path", path)
	return &SQLiteDB{db: db, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close shuts down the database handle.
func (s *SQLiteDB) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("sqlite close failed", "error", err)
	}
}

// InsertTrace stores a trace with its children serialized on the row.
func (s *SQLiteDB) InsertTrace(ctx context.Context, t model.Trace) error {
	decisions, events, observations, err := marshalChildren(t)
	if err != nil {
		return err
	}

	var taskID *string
	if t.TaskID != nil {
		v := t.TaskID.String()
		taskID = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (id, task_id, agent_name, operation, status, duration_ms, quality_score, created_at, decisions, events, observations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), taskID, t.AgentName, t.Operation, string(t.Status),
		t.DurationMs, t.QualityScore, t.CreatedAt.UTC().Format(sqliteTimeLayout),
		string(decisions), string(events), string(observations),
	)
	if err != nil {
		return fmt.Errorf("storage: insert trace: %w", err)
	}
	return nil
}

// ListTraces returns traces in the window, oldest first.
func (s *SQLiteDB) ListTraces(ctx context.Context, since time.Time, agentName string) ([]model.Trace, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if agentName == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+traceColumns+` FROM traces WHERE created_at >= ? ORDER BY created_at ASC`,
			since.UTC().Format(sqliteTimeLayout),
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+traceColumns+` FROM traces WHERE created_at >= ? AND agent_name = ? ORDER BY created_at ASC`,
			since.UTC().Format(sqliteTimeLayout), agentName,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list traces: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTraces(rows)
}

// ListTracesByTask returns a task's traces, oldest first.
func (s *SQLiteDB) ListTracesByTask(ctx context.Context, taskID uuid.UUID) ([]model.Trace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE task_id = ? ORDER BY created_at ASC`,
		taskID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list traces by task: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTraces(rows)
}

func scanSQLiteTraces(rows *sql.Rows) ([]model.Trace, error) {
	var traces []model.Trace
	for rows.Next() {
		var (
			t                               model.Trace
			id, status, createdAt           string
			taskID                          *string
			decisions, events, observations string
		)
		if err := rows.Scan(
			&id, &taskID, &t.AgentName, &t.Operation, &status,
			&t.DurationMs, &t.QualityScore, &createdAt,
			&decisions, &events, &observations,
		); err != nil {
			return nil, fmt.Errorf("storage: scan trace: %w", err)
		}

		var err error
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage: parse trace id: %w", err)
		}
		if taskID != nil {
			parsed, err := uuid.Parse(*taskID)
			if err != nil {
				return nil, fmt.Errorf("storage: parse task id: %w", err)
			}
			t.TaskID = &parsed
		}
		if t.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("storage: parse created_at: %w", err)
		}
		t.Status = model.TraceStatus(status)
		if err := unmarshalChildren(&t, []byte(decisions), []byte(events), []byte(observations)); err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// CreateTask stores a new task.
func (s *SQLiteDB) CreateTask(ctx context.Context, task model.Task) error {
	inputData, result, err := marshalTaskPayloads(task)
	if err != nil {
		return err
	}

	var resultText *string
	if result != nil {
		v := string(result)
		resultText = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, task_type, status, input_data, result, quality_score, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID.String(), string(task.TaskType), string(task.Status), string(inputData),
		resultText, task.QualityScore, task.Error,
		task.CreatedAt.UTC().Format(sqliteTimeLayout),
		task.UpdatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("storage: create task: %w", err)
	}
	return nil
}

// GetTask returns a task by id.
func (s *SQLiteDB) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String(),
	)
	task, err := scanSQLiteTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	return task, nil
}

// UpdateTask persists the mutable fields of a task.
func (s *SQLiteDB) UpdateTask(ctx context.Context, task model.Task) error {
	_, result, err := marshalTaskPayloads(task)
	if err != nil {
		return err
	}

	var resultText *string
	if result != nil {
		v := string(result)
		resultText = &v
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, quality_score = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		string(task.Status), resultText, task.QualityScore, task.Error,
		task.UpdatedAt.UTC().Format(sqliteTimeLayout), task.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("storage: update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update task rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimPendingTask moves a pending task to running. The status guard in
// the WHERE clause makes the claim atomic; the follow-up read is safe
// because after a successful claim the row belongs to this caller.
func (s *SQLiteDB) ClaimPendingTask(ctx context.Context, id uuid.UUID, now time.Time) (model.Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.TaskStatusRunning), now.UTC().Format(sqliteTimeLayout),
		id.String(), string(model.TaskStatusPending),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Task{}, fmt.Errorf("storage: claim task rows affected: %w", err)
	}
	if n == 0 {
		return model.Task{}, ErrNotFound
	}
	return s.GetTask(ctx, id)
}

// ListRecentTasks returns the newest tasks first.
func (s *SQLiteDB) ListRecentTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent tasks: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTaskRows(rows)
}

// ListPendingTasks returns pending tasks, oldest first.
func (s *SQLiteDB) ListPendingTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(model.TaskStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending tasks: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTaskRows(rows)
}

func scanSQLiteTaskRows(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		task, err := scanSQLiteTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanSQLiteTask(scan func(dest ...any) error) (model.Task, error) {
	var (
		task                 model.Task
		id, taskType, status string
		createdAt, updatedAt string
		inputData            string
		result               *string
	)
	if err := scan(
		&id, &taskType, &status, &inputData, &result,
		&task.QualityScore, &task.Error, &createdAt, &updatedAt,
	); err != nil {
		return model.Task{}, err
	}

	var err error
	if task.ID, err = uuid.Parse(id); err != nil {
		return model.Task{}, fmt.Errorf("storage: parse task id: %w", err)
	}
	if task.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return model.Task{}, fmt.Errorf("storage: parse created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return model.Task{}, fmt.Errorf("storage: parse updated_at: %w", err)
	}
	task.TaskType = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)

	var resultBytes []byte
	if result != nil {
		resultBytes = []byte(*result)
	}
	if err := unmarshalTaskPayloads(&task, []byte(inputData), resultBytes); err != nil {
		return model.Task{}, err
	}
	return task, nil
}
