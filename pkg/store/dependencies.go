package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// DependencyStore persists task dependency edges and guards the DAG
// invariant.
type DependencyStore struct {
	db *sql.DB
}

// NewDependencyStore creates the repository.
func NewDependencyStore(db *sql.DB) *DependencyStore {
	return &DependencyStore{db: db}
}

// Add inserts the edge task→dependsOn after verifying it keeps the graph
// acyclic. The edge set is loaded and checked inside the same transaction as
// the insert so concurrent adds cannot sneak a cycle past the check.
func (s *DependencyStore) Add(ctx context.Context, dep *models.TaskDependency) error {
	if dep.TaskID == dep.DependsOnTaskID {
		return fmt.Errorf("task cannot depend on itself: %w", models.ErrCyclicDependency)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM task_dependencies
			WHERE task_id = $1 AND depends_on_task_id = $2)`,
		dep.TaskID, dep.DependsOnTaskID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check duplicate dependency: %w", err)
	}
	if exists {
		return models.NewValidationError("depends_on_task_id", "dependency already exists")
	}

	edges, err := loadEdges(ctx, tx)
	if err != nil {
		return err
	}
	// Adding task→dependsOn creates a cycle iff dependsOn already reaches
	// task through existing edges.
	if reaches(edges, dep.DependsOnTaskID, dep.TaskID) {
		return fmt.Errorf("dependency %s -> %s: %w",
			dep.TaskID, dep.DependsOnTaskID, models.ErrCyclicDependency)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_dependencies (id, task_id, depends_on_task_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		dep.ID, dep.TaskID, dep.DependsOnTaskID, dep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dependency: %w", err)
	}
	return nil
}

func loadEdges(ctx context.Context, tx *sql.Tx) (map[uuid.UUID][]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT task_id, depends_on_task_id FROM task_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[uuid.UUID][]uuid.UUID)
	for rows.Next() {
		var from, to uuid.UUID
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

// reaches reports whether target is reachable from start by DFS over edges.
func reaches(edges map[uuid.UUID][]uuid.UUID, start, target uuid.UUID) bool {
	if start == target {
		return true
	}
	visited := map[uuid.UUID]bool{start: true}
	stack := []uuid.UUID{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range edges[node] {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// ListForTask returns the tasks that id depends on.
func (s *DependencyStore) ListForTask(ctx context.Context, id uuid.UUID) ([]*models.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, depends_on_task_id, created_at
		FROM task_dependencies WHERE task_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*models.TaskDependency
	for rows.Next() {
		var d models.TaskDependency
		if err := rows.Scan(&d.ID, &d.TaskID, &d.DependsOnTaskID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

// Dependents returns the tasks that depend on id. Used for fan-out when id
// completes.
func (s *DependencyStore) Dependents(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id FROM task_dependencies WHERE depends_on_task_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var d uuid.UUID
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan dependent id: %w", err)
		}
		ids = append(ids, d)
	}
	return ids, rows.Err()
}

// CountIncomplete counts dependencies of id that are not yet completed. A
// task is ready when this reaches zero.
func (s *DependencyStore) CountIncomplete(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_task_id
		WHERE d.task_id = $1 AND t.status <> 'completed'`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count incomplete dependencies: %w", err)
	}
	return n, nil
}
