package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// AgentStore persists agent rows.
type AgentStore struct {
	db *sql.DB
}

// NewAgentStore creates the repository.
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, name, type, status, capabilities, config, parent_id,
	created_at, updated_at, last_heartbeat`

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var (
		a            models.Agent
		capsRaw      []byte
		cfgRaw       []byte
		parentID     sql.NullString
		lastHeartbeat sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &capsRaw, &cfgRaw,
		&parentID, &a.CreatedAt, &a.UpdatedAt, &lastHeartbeat)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(capsRaw, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode agent capabilities: %w", err)
	}
	if err := json.Unmarshal(cfgRaw, &a.Config); err != nil {
		return nil, fmt.Errorf("failed to decode agent config: %w", err)
	}
	if parentID.Valid {
		id, err := uuid.Parse(parentID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid parent_id: %w", err)
		}
		a.ParentID = &id
	}
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		a.LastHeartbeat = &t
	}
	return &a, nil
}

// Create inserts a new agent row.
func (s *AgentStore) Create(ctx context.Context, a *models.Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var parentID any
	if a.ParentID != nil {
		parentID = a.ParentID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, type, status, capabilities, config, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Name, a.Type, a.Status, caps, cfg, parentID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// Get fetches an agent by id.
func (s *AgentStore) Get(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent: %w", err)
	}
	return a, nil
}

// AgentFilter narrows List results.
type AgentFilter struct {
	Type     models.AgentType
	Status   models.AgentStatus
	Page     int
	PageSize int
}

// List returns a page of agents plus the total count for the filter.
func (s *AgentStore) List(ctx context.Context, f AgentFilter) ([]*models.Agent, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count agents: %w", err)
	}

	if f.PageSize <= 0 {
		f.PageSize = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	query := `SELECT ` + agentColumns + ` FROM agents` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, total, rows.Err()
}

// UpdateStatusFrom atomically moves an agent from one of the given statuses
// to the target status. Returns false when the agent was not in any of them.
func (s *AgentStore) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from []models.AgentStatus, to models.AgentStatus) (bool, error) {
	args := []any{to, id}
	in := ""
	for i, st := range from {
		args = append(args, st)
		if i > 0 {
			in += ","
		}
		in += fmt.Sprintf("$%d", len(args))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN (`+in+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update agent status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetStatus unconditionally sets the status. Used for forced transitions the
// manager has already validated.
func (s *AgentStore) SetStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = $1, updated_at = now() WHERE id = $2`,
		status, id)
	if err != nil {
		return false, fmt.Errorf("failed to set agent status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordHeartbeat stamps last_heartbeat, keeping it monotonic.
func (s *AgentStore) RecordHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET last_heartbeat = $1, updated_at = now()
		WHERE id = $2 AND (last_heartbeat IS NULL OR last_heartbeat < $1)`,
		at, id)
	if err != nil {
		return false, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountActive counts agents in starting, idle, or busy.
func (s *AgentStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM agents WHERE status IN ('starting','idle','busy')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active agents: %w", err)
	}
	return n, nil
}

// ListIdle returns idle agents of the optional type, least recently updated
// first so assignment spreads across the pool.
func (s *AgentStore) ListIdle(ctx context.Context, agentType models.AgentType) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = 'idle'`
	args := []any{}
	if agentType != "" {
		args = append(args, agentType)
		query += ` AND type = $1`
	}
	query += ` ORDER BY updated_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListStale returns live agents whose last heartbeat predates the cutoff.
// Agents that never heartbeated are judged by creation time instead so a
// stuck starting agent is eventually reaped too.
func (s *AgentStore) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status IN ('idle','busy')
		  AND ((last_heartbeat IS NOT NULL AND last_heartbeat < $1)
		    OR (last_heartbeat IS NULL AND created_at < $1))`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
