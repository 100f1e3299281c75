package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/bus"
	"github.com/agentmesh/agentmesh/pkg/llm"
	"github.com/agentmesh/agentmesh/pkg/models"
)

// TaskService is the scheduler surface the runtime reports through.
type TaskService interface {
	StartTask(ctx context.Context, id uuid.UUID) error
	ReportProgress(ctx context.Context, id uuid.UUID, progress float64, message string) error
	CompleteTask(ctx context.Context, id uuid.UUID, result map[string]any) (bool, error)
	FailTask(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error
}

// Runtime executes assigned tasks for the agents this process hosts.
type Runtime struct {
	consumer    *bus.Consumer
	tasks       TaskService
	registry    *Registry
	llm         llm.Client
	knowledge   KnowledgeStore
	taskTimeout time.Duration
	logger      *slog.Logger

	sem chan struct{}

	mu     sync.RWMutex
	hosted map[uuid.UUID]*models.Agent

	wg sync.WaitGroup
}

// NewRuntime wires the runtime. maxConcurrent bounds simultaneous
// executions across all hosted agents.
func NewRuntime(consumer *bus.Consumer, tasks TaskService, registry *Registry, client llm.Client, knowledge KnowledgeStore, maxConcurrent int, taskTimeout time.Duration) *Runtime {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if knowledge == nil {
		knowledge = NopKnowledgeStore{}
	}
	return &Runtime{
		consumer:    consumer,
		tasks:       tasks,
		registry:    registry,
		llm:         client,
		knowledge:   knowledge,
		taskTimeout: taskTimeout,
		logger:      slog.With("component", "worker"),
		sem:         make(chan struct{}, maxConcurrent),
		hosted:      make(map[uuid.UUID]*models.Agent),
	}
}

// Host registers a local agent so its assignments are picked up.
func (r *Runtime) Host(agent *models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosted[agent.ID] = agent
}

// HostedAgents snapshots the locally hosted agents.
func (r *Runtime) HostedAgents() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.hosted))
	for _, a := range r.hosted {
		out = append(out, a)
	}
	return out
}

// ActiveTasks reports how many executions are in flight.
func (r *Runtime) ActiveTasks() int {
	return len(r.sem)
}

// Capacity reports the concurrency bound.
func (r *Runtime) Capacity() int {
	return cap(r.sem)
}

// Start subscribes to assignments and begins executing.
func (r *Runtime) Start(ctx context.Context) {
	r.consumer.On(models.EventTaskAssigned, r.onAssigned)
	r.consumer.Start(ctx)
	r.logger.Info("Worker runtime started", "capacity", cap(r.sem))
}

// onAssigned accepts an assignment for a hosted agent and launches its
// execution. Assignments for other workers' agents are acked untouched.
func (r *Runtime) onAssigned(ctx context.Context, env models.Envelope) error {
	if env.AgentID == nil || env.TaskID == nil {
		return nil
	}
	r.mu.RLock()
	agent, ours := r.hosted[*env.AgentID]
	r.mu.RUnlock()
	if !ours {
		return nil
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	taskID := *env.TaskID
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		r.execute(context.WithoutCancel(ctx), agent, taskID, env)
	}()
	return nil
}

// execute runs one task end to end under the per-task timeout.
func (r *Runtime) execute(ctx context.Context, agent *models.Agent, taskID uuid.UUID, env models.Envelope) {
	logger := r.logger.With("task_id", taskID, "agent_id", agent.ID)

	if err := r.tasks.StartTask(ctx, taskID); err != nil {
		// Cancelled or reassigned before we got here.
		logger.Warn("Task start rejected", "error", err)
		return
	}

	timeout := r.taskTimeout
	if agent.Config.TimeoutSeconds > 0 {
		timeout = time.Duration(agent.Config.TimeoutSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := map[string]any{}
	if d, ok := env.Payload["description"].(string); ok {
		input["description"] = d
	}
	if in, ok := env.Payload["input_data"].(map[string]any); ok {
		for k, v := range in {
			input[k] = v
		}
	}

	runner := r.registry.Build(agent.Type, r.llm)
	result, err := runner.Execute(execCtx, input)
	switch {
	case err == nil:
		if _, cerr := r.tasks.CompleteTask(ctx, taskID, result); cerr != nil {
			logger.Error("Completion report failed", "error", cerr)
			return
		}
		if agent.Config.MemoryEnabled {
			r.remember(ctx, agent, taskID, input, result)
		}
		logger.Info("Task executed")
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		logger.Warn("Task timed out", "timeout", timeout)
		r.fail(ctx, taskID, "TIMEOUT", true, logger)
	case errors.Is(ctx.Err(), context.Canceled):
		logger.Info("Task cancelled during shutdown")
		r.fail(ctx, taskID, "cancelled by shutdown", true, logger)
	default:
		retry := Recoverable(err)
		logger.Warn("Task execution failed", "error", err, "retry", retry)
		r.fail(ctx, taskID, err.Error(), retry, logger)
	}
}

func (r *Runtime) fail(ctx context.Context, taskID uuid.UUID, msg string, retry bool, logger *slog.Logger) {
	if err := r.tasks.FailTask(ctx, taskID, msg, retry); err != nil {
		logger.Error("Failure report failed", "error", err)
	}
}

// remember records the outcome for successful executions only.
func (r *Runtime) remember(ctx context.Context, agent *models.Agent, taskID uuid.UUID, input, result map[string]any) {
	content := fmt.Sprintf("task %s: input=%v result=%v", taskID, input, result)
	if err := r.knowledge.Record(ctx, agent.ID.String(), content, map[string]any{
		"task_id": taskID.String(),
	}); err != nil {
		r.logger.Debug("Memory record failed", "task_id", taskID, "error", err)
	}
}

// Drain stops accepting assignments and waits for in-flight executions up
// to the deadline; the remainder keeps running under its own task timeout
// but the process will no longer report for it after return.
func (r *Runtime) Drain(ctx context.Context) error {
	if err := r.consumer.Stop(); err != nil {
		r.logger.Warn("Consumer stop failed", "error", err)
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Worker drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain deadline reached with %d tasks in flight", r.ActiveTasks())
	}
}

// Recoverable classifies an execution error. Validation failures are
// permanent; timeouts, upstream and dependency failures are worth a retry.
func Recoverable(err error) bool {
	switch {
	case models.IsValidationError(err):
		return false
	case errors.Is(err, models.ErrUpstreamFailure),
		errors.Is(err, models.ErrDependencyUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return true
	}
}
