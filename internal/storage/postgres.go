package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/mieru/internal/model"
)

// DB is the PostgreSQL-backed Store.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*DB)(nil)

// New creates a DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// InsertTrace stores a trace. Children live in JSONB columns on the
// trace row, so the insert is atomic by construction.
func (db *DB) InsertTrace(ctx context.Context, t model.Trace) error {
	decisions, events, observations, err := marshalChildren(t)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO traces (id, task_id, agent_name, operation, status, duration_ms, quality_score, created_at, decisions, events, observations)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.TaskID, t.AgentName, t.Operation, string(t.Status),
		t.DurationMs, t.QualityScore, t.CreatedAt, decisions, events, observations,
	)
	if err != nil {
		return fmt.Errorf("storage: insert trace: %w", err)
	}
	return nil
}

const traceColumns = `id, task_id, agent_name, operation, status, duration_ms, quality_score, created_at, decisions, events, observations`

// ListTraces returns traces in the window, oldest first.
func (db *DB) ListTraces(ctx context.Context, since time.Time, agentName string) ([]model.Trace, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if agentName == "" {
		rows, err = db.pool.Query(ctx,
			`SELECT `+traceColumns+` FROM traces WHERE created_at >= $1 ORDER BY created_at ASC`,
			since,
		)
	} else {
		rows, err = db.pool.Query(ctx,
			`SELECT `+traceColumns+` FROM traces WHERE created_at >= $1 AND agent_name = $2 ORDER BY created_at ASC`,
			since, agentName,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list traces: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

// ListTracesByTask returns a task's traces, oldest first.
func (db *DB) ListTracesByTask(ctx context.Context, taskID uuid.UUID) ([]model.Trace, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE task_id = $1 ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list traces by task: %w", err)
	}
	defer rows.Close()
	return scanTraces(rows)
}

func scanTraces(rows pgx.Rows) ([]model.Trace, error) {
	var traces []model.Trace
	for rows.Next() {
		var (
			t                              model.Trace
			status                         string
			decisions, events, observations []byte
		)
		if err := rows.Scan(
			&t.ID, &t.TaskID, &t.AgentName, &t.Operation, &status,
			&t.DurationMs, &t.QualityScore, &t.CreatedAt,
			&decisions, &events, &observations,
		); err != nil {
			return nil, fmt.Errorf("storage: scan trace: %w", err)
		}
		t.Status = model.TraceStatus(status)
		if err := unmarshalChildren(&t, decisions, events, observations); err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// CreateTask stores a new task.
func (db *DB) CreateTask(ctx context.Context, task model.Task) error {
	inputData, result, err := marshalTaskPayloads(task)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO tasks (id, task_type, status, input_data, result, quality_score, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, string(task.TaskType), string(task.Status), inputData, result,
		task.QualityScore, task.Error, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create task: %w", err)
	}
	return nil
}

const taskColumns = `id, task_type, status, input_data, result, quality_score, error, created_at, updated_at`

// GetTask returns a task by id.
func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id,
	)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, fmt.Errorf("storage: get task: %w", err)
	}
	return task, nil
}

// UpdateTask persists the mutable fields of a task.
func (db *DB) UpdateTask(ctx context.Context, task model.Task) error {
	_, result, err := marshalTaskPayloads(task)
	if err != nil {
		return err
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, result = $2, quality_score = $3, error = $4, updated_at = $5
		 WHERE id = $6`,
		string(task.Status), result, task.QualityScore, task.Error, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimPendingTask moves a pending task to running. The status guard in
// the WHERE clause makes the claim atomic: a task delivered to two
// workers is only returned to the one whose update lands first.
func (db *DB) ClaimPendingTask(ctx context.Context, id uuid.UUID, now time.Time) (model.Task, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = $4
		 RETURNING `+taskColumns,
		string(model.TaskStatusRunning), now, id, string(model.TaskStatusPending),
	)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, fmt.Errorf("storage: claim task: %w", err)
	}
	return task, nil
}

// ListRecentTasks returns the newest tasks first.
func (db *DB) ListRecentTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// ListPendingTasks returns pending tasks, oldest first.
func (db *DB) ListPendingTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(model.TaskStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func scanTaskRows(rows pgx.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (model.Task, error) {
	var (
		task              model.Task
		taskType, status  string
		inputData, result []byte
	)
	if err := row.Scan(
		&task.ID, &taskType, &status, &inputData, &result,
		&task.QualityScore, &task.Error, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return model.Task{}, err
	}
	task.TaskType = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)
	if err := unmarshalTaskPayloads(&task, inputData, result); err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// --- JSON payload helpers shared by both backends ---

func marshalChildren(t model.Trace) (decisions, events, observations []byte, err error) {
	if decisions, err = json.Marshal(emptyIfNilD(t.Decisions)); err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal decisions: %w", err)
	}
	if events, err = json.Marshal(emptyIfNilE(t.Events)); err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal events: %w", err)
	}
	if observations, err = json.Marshal(emptyIfNilO(t.Observations)); err != nil {
		return nil, nil, nil, fmt.Errorf("storage: marshal observations: %w", err)
	}
	return decisions, events, observations, nil
}

func unmarshalChildren(t *model.Trace, decisions, events, observations []byte) error {
	if err := json.Unmarshal(decisions, &t.Decisions); err != nil {
		return fmt.Errorf("storage: unmarshal decisions: %w", err)
	}
	if err := json.Unmarshal(events, &t.Events); err != nil {
		return fmt.Errorf("storage: unmarshal events: %w", err)
	}
	if err := json.Unmarshal(observations, &t.Observations); err != nil {
		return fmt.Errorf("storage: unmarshal observations: %w", err)
	}
	return nil
}

func marshalTaskPayloads(task model.Task) (inputData, result []byte, err error) {
	in := task.InputData
	if in == nil {
		in = map[string]any{}
	}
	if inputData, err = json.Marshal(in); err != nil {
		return nil, nil, fmt.Errorf("storage: marshal input_data: %w", err)
	}
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return nil, nil, fmt.Errorf("storage: marshal result: %w", err)
		}
	}
	return inputData, result, nil
}

func unmarshalTaskPayloads(task *model.Task, inputData, result []byte) error {
	if err := json.Unmarshal(inputData, &task.InputData); err != nil {
		return fmt.Errorf("storage: unmarshal input_data: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &task.Result); err != nil {
			return fmt.Errorf("storage: unmarshal result: %w", err)
		}
	}
	return nil
}

func emptyIfNilD(d []model.Decision) []model.Decision {
	if d == nil {
		return []model.Decision{}
	}
	return d
}

func emptyIfNilE(e []model.Event) []model.Event {
	if e == nil {
		return []model.Event{}
	}
	return e
}

func emptyIfNilO(o []model.Observation) []model.Observation {
	if o == nil {
		return []model.Observation{}
	}
	return o
}
