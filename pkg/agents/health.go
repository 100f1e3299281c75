package agents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// HealthMonitor reaps agents that stopped heartbeating: they go offline, an
// agent.stopped(reason=heartbeat_timeout) event is published, and their
// in-flight tasks are released back to the scheduler. Only the leader runs
// the sweep so a multi-instance deployment reaps each agent once.
type HealthMonitor struct {
	manager  *Manager
	agents   *store.AgentStore
	interval time.Duration
	timeout  time.Duration
	isLeader func() bool
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHealthMonitor creates the monitor. isLeader gates each sweep.
func NewHealthMonitor(manager *Manager, agents *store.AgentStore, interval, timeout time.Duration, isLeader func() bool) *HealthMonitor {
	return &HealthMonitor{
		manager:  manager,
		agents:   agents,
		interval: interval,
		timeout:  timeout,
		isLeader: isLeader,
		logger:   slog.With("component", "agents.health"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if h.isLeader == nil || h.isLeader() {
					h.sweep(ctx)
				}
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()
}

// sweep marks every stale agent offline. The sweep is idempotent: an agent
// already offline is skipped by the status guard in the query.
func (h *HealthMonitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-h.timeout)
	stale, err := h.agents.ListStale(ctx, cutoff)
	if err != nil {
		h.logger.Error("Stale agent query failed", "error", err)
		return
	}
	for _, a := range stale {
		h.logger.Warn("Agent heartbeat timed out",
			"agent_id", a.ID,
			"agent_type", a.Type,
			"last_heartbeat", a.LastHeartbeat)
		h.reap(ctx, a)
	}
}

func (h *HealthMonitor) reap(ctx context.Context, a *models.Agent) {
	ok, err := h.agents.UpdateStatusFrom(ctx,
		a.ID,
		[]models.AgentStatus{models.AgentStatusIdle, models.AgentStatusBusy},
		models.AgentStatusOffline)
	if err != nil {
		h.logger.Error("Failed to mark agent offline", "agent_id", a.ID, "error", err)
		return
	}
	if !ok {
		// Another instance or a concurrent transition got there first.
		return
	}
	if err := h.manager.events.AgentStopped(ctx, a.ID, "heartbeat_timeout"); err != nil {
		h.logger.Warn("Stopped event publish failed", "agent_id", a.ID, "error", err)
	}
	if h.manager.releaser != nil {
		if err := h.manager.releaser.ReleaseAgentTasks(ctx, a.ID, "agent_lost"); err != nil {
			h.logger.Error("Task release failed", "agent_id", a.ID, "error", err)
		}
	}
}
