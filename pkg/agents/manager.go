// Package agents manages agent lifecycle: spawning, status transitions,
// heartbeats, termination, and the health monitor that reaps silent agents.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/bus"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// allowedTransitions is the agent lifecycle transition table. A transition
// absent here is rejected with ErrInvalidTransition.
var allowedTransitions = map[models.AgentStatus][]models.AgentStatus{
	models.AgentStatusStarting: {models.AgentStatusIdle, models.AgentStatusStopping, models.AgentStatusFailed},
	models.AgentStatusIdle:     {models.AgentStatusBusy, models.AgentStatusStopping, models.AgentStatusOffline, models.AgentStatusFailed},
	models.AgentStatusBusy:     {models.AgentStatusIdle, models.AgentStatusStopping, models.AgentStatusOffline, models.AgentStatusFailed},
	models.AgentStatusStopping: {models.AgentStatusOffline, models.AgentStatusFailed},
	models.AgentStatusOffline:  {models.AgentStatusStarting},
	models.AgentStatusFailed:   {},
}

// TransitionAllowed reports whether from → to is in the transition table.
func TransitionAllowed(from, to models.AgentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskReleaser frees the tasks an agent owns when it goes away. Implemented
// by the scheduler; injected to avoid a package cycle.
type TaskReleaser interface {
	ReleaseAgentTasks(ctx context.Context, agentID uuid.UUID, reason string) error
}

// Manager owns agent lifecycle operations.
type Manager struct {
	agents   *store.AgentStore
	pools    *store.PoolStore
	states   *state.Store
	events   *bus.Events
	cfg      config.AgentConfig
	releaser TaskReleaser
	logger   *slog.Logger
}

// NewManager wires the manager.
func NewManager(stores *store.Stores, states *state.Store, events *bus.Events, cfg config.AgentConfig) *Manager {
	return &Manager{
		agents: stores.Agents,
		pools:  stores.Pools,
		states: states,
		events: events,
		cfg:    cfg,
		logger: slog.With("component", "agents"),
	}
}

// SetReleaser injects the scheduler-side task release hook.
func (m *Manager) SetReleaser(r TaskReleaser) {
	m.releaser = r
}

// SpawnRequest carries the Spawn parameters.
type SpawnRequest struct {
	Type         models.AgentType
	Name         string
	Capabilities *models.AgentCapabilities
	Config       *models.AgentConfig
	ParentID     *uuid.UUID
	TraceID      string
}

// Spawn registers a new agent in starting state, attaches it to its type's
// default pool, and announces it on the bus.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*models.Agent, error) {
	if !models.ValidAgentType(string(req.Type)) {
		return nil, models.NewValidationError("agent_type", fmt.Sprintf("unknown agent type %q", req.Type))
	}

	active, err := m.agents.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	if active >= m.cfg.MaxConcurrentAgents {
		return nil, fmt.Errorf("active agent limit %d reached: %w",
			m.cfg.MaxConcurrentAgents, models.ErrCapacityExceeded)
	}

	id := uuid.New()
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s", req.Type, id.String()[:8])
	}
	caps := models.DefaultCapabilities()
	if req.Capabilities != nil {
		caps = *req.Capabilities
	}
	agentCfg := models.DefaultAgentConfig()
	if req.Config != nil {
		agentCfg = *req.Config
	}

	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           id,
		Name:         name,
		Type:         req.Type,
		Status:       models.AgentStatusStarting,
		Capabilities: caps,
		Config:       agentCfg,
		ParentID:     req.ParentID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = m.withRetry(ctx, "create agent", func() error {
		return m.agents.Create(ctx, agent)
	})
	if err != nil {
		return nil, err
	}

	if pool, perr := m.pools.EnsureForType(ctx, req.Type); perr == nil {
		if aerr := m.pools.AddMember(ctx, pool.ID, id); aerr != nil {
			m.logger.Warn("Pool attach failed", "agent_id", id, "error", aerr)
		}
	} else {
		m.logger.Warn("Pool lookup failed", "agent_type", req.Type, "error", perr)
	}

	if err := m.events.AgentSpawned(ctx, agent, req.TraceID); err != nil {
		m.logger.Warn("Spawn event publish failed", "agent_id", id, "error", err)
	}
	m.mirrorState(ctx, agent)

	m.logger.Info("Agent spawned", "agent_id", id, "agent_type", req.Type, "name", name)
	return agent, nil
}

// UpdateStatus applies a lifecycle transition after validating it against
// the transition table.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, to models.AgentStatus) (*models.Agent, error) {
	if !models.ValidAgentStatus(string(to)) {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}

	agent, err := m.agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := agent.Status
	if from == to {
		return agent, nil
	}
	if !TransitionAllowed(from, to) {
		return nil, fmt.Errorf("agent %s: %s -> %s: %w",
			id, from, to, models.ErrInvalidTransition)
	}

	ok, err := m.agents.UpdateStatusFrom(ctx, id, []models.AgentStatus{from}, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("agent %s changed concurrently: %w", id, models.ErrInvalidTransition)
	}
	agent.Status = to
	agent.UpdatedAt = time.Now().UTC()

	switch {
	case from == models.AgentStatusStarting && to == models.AgentStatusIdle:
		if err := m.events.AgentStarted(ctx, id); err != nil {
			m.logger.Warn("Started event publish failed", "agent_id", id, "error", err)
		}
	case to == models.AgentStatusFailed:
		if err := m.events.AgentFailed(ctx, id, "status transition"); err != nil {
			m.logger.Warn("Failed event publish failed", "agent_id", id, "error", err)
		}
	}
	m.mirrorState(ctx, agent)
	return agent, nil
}

// RecordHeartbeat stamps the agent's liveness and republishes it on the bus.
// The stamp is monotonic; stale heartbeats are ignored.
func (m *Manager) RecordHeartbeat(ctx context.Context, id uuid.UUID, metrics map[string]any) error {
	ok, err := m.agents.RecordHeartbeat(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		// Either the agent is unknown or the stamp was older than the
		// stored one. Distinguish for the caller.
		if _, gerr := m.agents.Get(ctx, id); gerr != nil {
			return gerr
		}
		return nil
	}
	if err := m.events.AgentHeartbeat(ctx, id, metrics); err != nil {
		m.logger.Debug("Heartbeat event publish failed", "agent_id", id, "error", err)
	}
	return nil
}

// Terminate shuts an agent down: offline status, stopped event, owned tasks
// released back to the scheduler.
func (m *Manager) Terminate(ctx context.Context, id uuid.UUID, reason string) error {
	agent, err := m.agents.Get(ctx, id)
	if err != nil {
		return err
	}
	if agent.Status == models.AgentStatusOffline {
		return nil
	}

	if _, err := m.agents.SetStatus(ctx, id, models.AgentStatusOffline); err != nil {
		return err
	}
	if err := m.events.AgentStopped(ctx, id, reason); err != nil {
		m.logger.Warn("Stopped event publish failed", "agent_id", id, "error", err)
	}
	if m.releaser != nil {
		if err := m.releaser.ReleaseAgentTasks(ctx, id, "agent_terminated"); err != nil {
			m.logger.Error("Task release failed", "agent_id", id, "error", err)
		}
	}
	agent.Status = models.AgentStatusOffline
	m.mirrorState(ctx, agent)
	m.logger.Info("Agent terminated", "agent_id", id, "reason", reason)
	return nil
}

// PickAvailable returns the least recently assigned idle agent matching the
// optional type and required skills. No match returns ErrNotFound.
func (m *Manager) PickAvailable(ctx context.Context, agentType models.AgentType, skills []string) (*models.Agent, error) {
	idle, err := m.agents.ListIdle(ctx, agentType)
	if err != nil {
		return nil, err
	}
	for _, a := range idle {
		if a.Capabilities.HasSkills(skills) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no available agent: %w", models.ErrNotFound)
}

// Get fetches one agent.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return m.agents.Get(ctx, id)
}

// List pages through agents.
func (m *Manager) List(ctx context.Context, f store.AgentFilter) ([]*models.Agent, int, error) {
	return m.agents.List(ctx, f)
}

// mirrorState pushes the agent's hot state into the state store for fast
// reads; failures only log.
func (m *Manager) mirrorState(ctx context.Context, a *models.Agent) {
	err := m.states.SetAgentState(ctx, a.ID.String(), map[string]any{
		"status":     string(a.Status),
		"agent_type": string(a.Type),
		"updated_at": a.UpdatedAt,
	})
	if err != nil {
		m.logger.Debug("State mirror failed", "agent_id", a.ID, "error", err)
	}
}

// withRetry retries transient store failures with exponential backoff,
// 3 attempts, 1 s base, 2x factor.
func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == 3 {
			break
		}
		m.logger.Warn("Retrying operation", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after retries: %w", op, err)
}
