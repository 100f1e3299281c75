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

// PoolStore persists agent pools and their memberships.
type PoolStore struct {
	db *sql.DB
}

// NewPoolStore creates the repository.
func NewPoolStore(db *sql.DB) *PoolStore {
	return &PoolStore{db: db}
}

// EnsureForType returns the default pool for an agent type, creating it on
// first use.
func (s *PoolStore) EnsureForType(ctx context.Context, agentType models.AgentType) (*models.AgentPool, error) {
	name := string(agentType) + "-pool"
	pool, err := s.GetByName(ctx, name)
	if err == nil {
		return pool, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	pool = &models.AgentPool{
		ID:        uuid.New(),
		Name:      name,
		AgentType: agentType,
		MinAgents: 0,
		MaxAgents: 10,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_pools (id, name, agent_type, min_agents, max_agents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING`,
		pool.ID, pool.Name, pool.AgentType, pool.MinAgents, pool.MaxAgents,
		pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	// A concurrent creator may have won the insert race.
	return s.GetByName(ctx, name)
}

// GetByName fetches a pool by its unique name.
func (s *PoolStore) GetByName(ctx context.Context, name string) (*models.AgentPool, error) {
	var p models.AgentPool
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, agent_type, min_agents, max_agents, created_at, updated_at
		FROM agent_pools WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &desc, &p.AgentType, &p.MinAgents, &p.MaxAgents,
			&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %q: %w", name, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool: %w", err)
	}
	p.Description = desc.String
	return &p, nil
}

// AddMember attaches an agent to a pool. Re-adding is a no-op.
func (s *PoolStore) AddMember(ctx context.Context, poolID, agentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_pool_membership (pool_id, agent_id, joined_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING`, poolID, agentID)
	if err != nil {
		return fmt.Errorf("failed to add pool member: %w", err)
	}
	return nil
}

// ListMembers returns the agent ids attached to a pool.
func (s *PoolStore) ListMembers(ctx context.Context, poolID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id FROM agent_pool_membership WHERE pool_id = $1`, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pool member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
