package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AssignTaskToAgent moves the task to queued and the agent to busy in one
// transaction. Either both rows change or neither does. Returns false when
// the task left the schedulable set or the agent stopped being idle.
func (s *Stores) AssignTaskToAgent(ctx context.Context, taskID, agentID uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin assignment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET agent_id = $1, status = 'queued'
		WHERE id = $2 AND status IN ('pending','queued','retrying')`,
		agentID, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to assign task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE agents SET status = 'busy', updated_at = now()
		WHERE id = $1 AND status = 'idle'`, agentID)
	if err != nil {
		return false, fmt.Errorf("failed to mark agent busy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return true, nil
}
