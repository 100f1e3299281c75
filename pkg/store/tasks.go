package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// TaskStore persists task rows. Terminal immutability is enforced here: every
// UPDATE carries a status guard so a completed, failed, or cancelled task can
// never change again regardless of caller races.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates the repository.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, agent_id, parent_task_id, description, status, priority,
	input_data, output_data, metadata, deadline, created_at, started_at, completed_at`

const notTerminal = `status NOT IN ('completed','failed','cancelled')`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		t            models.Task
		agentID      sql.NullString
		parentTaskID sql.NullString
		inputRaw     []byte
		outputRaw    []byte
		metaRaw      []byte
		deadline     sql.NullTime
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&t.ID, &agentID, &parentTaskID, &t.Description, &t.Status,
		&t.Priority, &inputRaw, &outputRaw, &metaRaw, &deadline, &t.CreatedAt,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if t.InputData, err = unmarshalJSON(inputRaw); err != nil {
		return nil, err
	}
	if t.OutputData, err = unmarshalJSON(outputRaw); err != nil {
		return nil, err
	}
	if t.Metadata, err = unmarshalJSON(metaRaw); err != nil {
		return nil, err
	}
	if agentID.Valid {
		id, err := uuid.Parse(agentID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid agent_id: %w", err)
		}
		t.AgentID = &id
	}
	if parentTaskID.Valid {
		id, err := uuid.Parse(parentTaskID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid parent_task_id: %w", err)
		}
		t.ParentTaskID = &id
	}
	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	if startedAt.Valid {
		st := startedAt.Time
		t.StartedAt = &st
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	return &t, nil
}

// Create inserts a new task row.
func (s *TaskStore) Create(ctx context.Context, t *models.Task) error {
	input, err := marshalJSON(t.InputData)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	var agentID, parentID any
	if t.AgentID != nil {
		agentID = t.AgentID.String()
	}
	if t.ParentTaskID != nil {
		parentID = t.ParentTaskID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, agent_id, parent_task_id, description, status,
			priority, input_data, metadata, deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, agentID, parentID, t.Description, t.Status, t.Priority,
		input, meta, t.Deadline, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get fetches a task by id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	return t, nil
}

// TaskFilter narrows List results.
type TaskFilter struct {
	Status   models.TaskStatus
	AgentID  *uuid.UUID
	Page     int
	PageSize int
}

// List returns a page of tasks plus the total count for the filter.
func (s *TaskStore) List(ctx context.Context, f TaskFilter) ([]*models.Task, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.AgentID != nil {
		args = append(args, f.AgentID.String())
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	if f.PageSize <= 0 {
		f.PageSize = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// CountLive counts tasks occupying queue capacity, i.e. every non-terminal
// status.
func (s *TaskStore) CountLive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks
		WHERE status IN ('pending','queued','in_progress','retrying')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count live tasks: %w", err)
	}
	return n, nil
}

// Assign moves a schedulable task to queued with the given agent. Returns
// false when the task left the schedulable set in the meantime.
func (s *TaskStore) Assign(ctx context.Context, id, agentID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET agent_id = $1, status = 'queued'
		WHERE id = $2 AND status IN ('pending','queued','retrying')`,
		agentID, id)
	if err != nil {
		return false, fmt.Errorf("failed to assign task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Start moves a queued task to in_progress and stamps started_at.
func (s *TaskStore) Start(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'in_progress', started_at = $1
		WHERE id = $2 AND status = 'queued'`, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to start task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Complete finalizes a task with its output. The guard makes completion
// idempotent: a second call affects zero rows and returns false.
func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID, output map[string]any, at time.Time) (bool, error) {
	out, err := marshalJSON(output)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', output_data = $1, completed_at = $2
		WHERE id = $3 AND `+notTerminal, out, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Fail finalizes a task as failed, recording the error in metadata.
func (s *TaskStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', completed_at = $1,
			metadata = metadata || jsonb_build_object('last_error', $2::text)
		WHERE id = $3 AND `+notTerminal, at, errMsg, id)
	if err != nil {
		return false, fmt.Errorf("failed to fail task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkRetrying parks a non-terminal task for retry, clearing its agent,
// bumping the retry counter, and recording when it becomes schedulable
// again.
func (s *TaskStore) MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, retryAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'retrying', agent_id = NULL,
			metadata = metadata || jsonb_build_object(
				'retry_count', $1::int,
				'last_error', $2::text,
				'retry_at', $3::text)
		WHERE id = $4 AND `+notTerminal,
		retryCount, errMsg, retryAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark task retrying: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListRetryDue returns retrying tasks whose backoff has elapsed.
func (s *TaskStore) ListRetryDue(ctx context.Context, now time.Time) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'retrying'
		  AND (metadata->>'retry_at' IS NULL
			OR (metadata->>'retry_at')::timestamptz <= $1)`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Requeue returns a retrying or queued task to pending so the scheduler picks
// it up again.
func (s *TaskStore) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', agent_id = NULL
		WHERE id = $1 AND status IN ('queued','retrying')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Cancel cancels a task that has not started. in_progress and terminal tasks
// are left untouched.
func (s *TaskStore) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'cancelled', completed_at = $1
		WHERE id = $2 AND status IN ('pending','queued','retrying')`, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetProgress merges progress fields into metadata on a running task.
func (s *TaskStore) SetProgress(ctx context.Context, id uuid.UUID, progress float64, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET metadata = metadata ||
			jsonb_build_object('progress', $1::float, 'progress_message', $2::text)
		WHERE id = $3 AND status = 'in_progress'`, progress, message, id)
	if err != nil {
		return false, fmt.Errorf("failed to set task progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListSchedulable returns pending tasks, oldest first, for ready-set loading.
func (s *TaskStore) ListSchedulable(ctx context.Context, limit int) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListByAgent returns the agent's tasks in the given statuses.
func (s *TaskStore) ListByAgent(ctx context.Context, agentID uuid.UUID, statuses ...models.TaskStatus) ([]*models.Task, error) {
	args := []any{agentID.String()}
	in := ""
	for i, st := range statuses {
		args = append(args, st)
		if i > 0 {
			in += ","
		}
		in += fmt.Sprintf("$%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE agent_id = $1 AND status IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListOrphaned returns in_progress or queued tasks whose agent is no longer
// live. Used by the reconciliation sweep.
func (s *TaskStore) ListOrphaned(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.status IN ('queued','in_progress')
		  AND (t.agent_id IS NULL OR NOT EXISTS (
			SELECT 1 FROM agents a
			WHERE a.id = t.agent_id AND a.status IN ('idle','busy')))`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
