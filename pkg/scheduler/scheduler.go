// Package scheduler implements task admission, the ready-set priority
// queue, assignment strategies, the dependency DAG, retries, and the
// reconciliation sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/bus"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// Lock parameters for per-task serialization.
const (
	taskLockTTL     = 10 * time.Second
	taskLockTimeout = 5 * time.Second
)

// reconcileInterval paces the orphaned-task sweep.
const reconcileInterval = 30 * time.Second

// Scheduler owns the task lifecycle from submission to terminal state.
type Scheduler struct {
	stores   *store.Stores
	states   *state.Store
	events   *bus.Events
	metrics  *metrics.Metrics
	taskCfg  config.TaskConfig
	schedCfg config.SchedulerConfig

	strategy Strategy
	ready    *ReadySet
	selector *AgentSelector
	isLeader func() bool
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires the scheduler. isLeader gates the singleton loops; pass nil in
// single-instance deployments.
func New(stores *store.Stores, states *state.Store, events *bus.Events, m *metrics.Metrics, taskCfg config.TaskConfig, schedCfg config.SchedulerConfig, isLeader func() bool) (*Scheduler, error) {
	strategy, err := ParseStrategy(schedCfg.Strategy)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		stores:   stores,
		states:   states,
		events:   events,
		metrics:  m,
		taskCfg:  taskCfg,
		schedCfg: schedCfg,
		strategy: strategy,
		ready:    NewReadySet(schedCfg.AgingFactor, strategy.Ordering()),
		selector: NewAgentSelector(strategy, states),
		isLeader: isLeader,
		logger:   slog.With("component", "scheduler", "strategy", strategy),
		stopCh:   make(chan struct{}),
	}, nil
}

// SubmitRequest carries a task submission.
type SubmitRequest struct {
	Description  string
	Priority     int
	Deadline     *time.Time
	Input        map[string]any
	AgentType    models.AgentType
	AgentID      *uuid.UUID
	ParentTaskID *uuid.UUID
	TraceID      string
}

// SubmitTask admits a task. Admission is rejected once the live-task count
// reaches the queue cap. A submission pinned to an idle agent skips the
// ready set and is created already assigned.
func (s *Scheduler) SubmitTask(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	if req.Description == "" {
		return nil, models.NewValidationError("description", "must not be empty")
	}
	if req.Priority < models.MinPriority || req.Priority > models.MaxPriority {
		return nil, models.NewValidationError("priority",
			fmt.Sprintf("must be between %d and %d", models.MinPriority, models.MaxPriority))
	}
	if req.AgentType != "" && !models.ValidAgentType(string(req.AgentType)) {
		return nil, models.NewValidationError("agent_type", fmt.Sprintf("unknown agent type %q", req.AgentType))
	}

	live, err := s.stores.Tasks.CountLive(ctx)
	if err != nil {
		return nil, err
	}
	if live >= s.taskCfg.QueueMaxSize {
		return nil, fmt.Errorf("task queue full (%d): %w", s.taskCfg.QueueMaxSize, models.ErrCapacityExceeded)
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	meta := map[string]any{
		models.MetaTraceID:    traceID,
		models.MetaRetryCount: 0,
	}
	if req.AgentType != "" {
		meta[models.MetaAgentType] = string(req.AgentType)
	}

	task := &models.Task{
		ID:           uuid.New(),
		ParentTaskID: req.ParentTaskID,
		Description:  req.Description,
		Status:       models.TaskStatusPending,
		Priority:     req.Priority,
		InputData:    req.Input,
		Metadata:     meta,
		Deadline:     req.Deadline,
		CreatedAt:    time.Now().UTC(),
	}

	// Direct assignment fast path: a submission targeting an idle agent
	// is born queued on that agent.
	var directAgent *models.Agent
	if req.AgentID != nil {
		agent, err := s.stores.Agents.Get(ctx, *req.AgentID)
		if err != nil {
			return nil, err
		}
		if agent.Status == models.AgentStatusIdle {
			directAgent = agent
			task.Status = models.TaskStatusQueued
			task.AgentID = &agent.ID
		}
	}

	if err := s.stores.Tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.metrics.TaskSubmitted()

	if err := s.events.TaskCreated(ctx, task); err != nil {
		s.logger.Warn("Created event publish failed", "task_id", task.ID, "error", err)
	}

	if directAgent != nil {
		if _, err := s.stores.Agents.UpdateStatusFrom(ctx, directAgent.ID,
			[]models.AgentStatus{models.AgentStatusIdle}, models.AgentStatusBusy); err != nil {
			s.logger.Warn("Direct assignment busy transition failed",
				"agent_id", directAgent.ID, "error", err)
		}
		if err := s.events.TaskAssigned(ctx, task, directAgent.ID); err != nil {
			s.logger.Warn("Assigned event publish failed", "task_id", task.ID, "error", err)
		}
	}

	s.mirrorTask(ctx, task)
	s.logger.Info("Task submitted",
		"task_id", task.ID, "priority", task.Priority, "trace_id", traceID)
	return task, nil
}

// GetTask fetches one task.
func (s *Scheduler) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.stores.Tasks.Get(ctx, id)
}

// ListTasks pages through tasks.
func (s *Scheduler) ListTasks(ctx context.Context, f store.TaskFilter) ([]*models.Task, int, error) {
	return s.stores.Tasks.List(ctx, f)
}

// StatusInfo is the derived status view served by GetTaskStatus.
type StatusInfo struct {
	TaskID              uuid.UUID         `json:"task_id"`
	Status              models.TaskStatus `json:"status"`
	Progress            float64           `json:"progress"`
	Message             string            `json:"message,omitempty"`
	RetryCount          int               `json:"retry_count"`
	EstimatedCompletion *time.Time        `json:"estimated_completion,omitempty"`
}

// GetTaskStatus derives progress and an estimated completion time for a
// task.
func (s *Scheduler) GetTaskStatus(ctx context.Context, id uuid.UUID) (*StatusInfo, error) {
	task, err := s.stores.Tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info := &StatusInfo{
		TaskID:     task.ID,
		Status:     task.Status,
		RetryCount: task.RetryCount(),
	}
	if task.Metadata != nil {
		if p, ok := task.Metadata[models.MetaProgress].(float64); ok {
			info.Progress = p
		}
		if m, ok := task.Metadata[models.MetaProgressMessage].(string); ok {
			info.Message = m
		}
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		info.Progress = 1
	case models.TaskStatusInProgress:
		if task.StartedAt != nil {
			eta := task.StartedAt.Add(s.taskCfg.DefaultTimeout)
			info.EstimatedCompletion = &eta
		}
	}
	return info, nil
}

// Assign binds a task to an agent under the per-task lock, re-checking both
// sides before the transactional flip to queued/busy.
func (s *Scheduler) Assign(ctx context.Context, taskID, agentID uuid.UUID) error {
	return s.withTaskLock(ctx, taskID, func() error {
		task, err := s.stores.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		switch task.Status {
		case models.TaskStatusPending, models.TaskStatusQueued, models.TaskStatusRetrying:
		default:
			return fmt.Errorf("task %s is %s: %w", taskID, task.Status, models.ErrInvalidState)
		}
		agent, err := s.stores.Agents.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != models.AgentStatusIdle {
			return fmt.Errorf("agent %s is %s: %w", agentID, agent.Status, models.ErrInvalidState)
		}

		ok, err := s.stores.AssignTaskToAgent(ctx, taskID, agentID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("assignment of %s to %s lost a race: %w",
				taskID, agentID, models.ErrInvalidState)
		}

		task.Status = models.TaskStatusQueued
		task.AgentID = &agentID
		if _, err := s.states.IncrCounter(ctx, counterAssigned(agentID), 1); err != nil {
			s.logger.Debug("Assigned counter bump failed", "agent_id", agentID, "error", err)
		}
		if err := s.events.TaskAssigned(ctx, task, agentID); err != nil {
			s.logger.Warn("Assigned event publish failed", "task_id", taskID, "error", err)
		}
		s.mirrorTask(ctx, task)
		s.logger.Info("Task assigned", "task_id", taskID, "agent_id", agentID)
		return nil
	})
}

// StartTask moves a queued task to in_progress.
func (s *Scheduler) StartTask(ctx context.Context, id uuid.UUID) error {
	return s.withTaskLock(ctx, id, func() error {
		now := time.Now().UTC()
		ok, err := s.stores.Tasks.Start(ctx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			task, gerr := s.stores.Tasks.Get(ctx, id)
			if gerr != nil {
				return gerr
			}
			return fmt.Errorf("task %s is %s, not queued: %w", id, task.Status, models.ErrInvalidState)
		}
		task, err := s.stores.Tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.events.TaskStarted(ctx, id, task.AgentID, task.TraceID()); err != nil {
			s.logger.Warn("Started event publish failed", "task_id", id, "error", err)
		}
		s.mirrorTask(ctx, task)
		return nil
	})
}

// ReportProgress records a progress fraction in [0,1] on a running task.
func (s *Scheduler) ReportProgress(ctx context.Context, id uuid.UUID, progress float64, message string) error {
	if progress < 0 || progress > 1 {
		return models.NewValidationError("progress", "must be between 0 and 1")
	}
	ok, err := s.stores.Tasks.SetProgress(ctx, id, progress, message)
	if err != nil {
		return err
	}
	if !ok {
		task, gerr := s.stores.Tasks.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("task %s is %s, not in_progress: %w", id, task.Status, models.ErrInvalidState)
	}
	task, err := s.stores.Tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.events.TaskProgress(ctx, id, task.TraceID(), progress, message); err != nil {
		s.logger.Debug("Progress event publish failed", "task_id", id, "error", err)
	}
	s.mirrorTask(ctx, task)
	return nil
}

// CompleteTask finalizes a task with its result. Completion is idempotent:
// a second call returns false and changes nothing. On success the owning
// agent returns to idle and dependents blocked only on this task become
// schedulable.
func (s *Scheduler) CompleteTask(ctx context.Context, id uuid.UUID, result map[string]any) (bool, error) {
	var completed bool
	err := s.withTaskLock(ctx, id, func() error {
		task, err := s.stores.Tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		output := map[string]any{"result": result}
		ok, err := s.stores.Tasks.Complete(ctx, id, output, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		completed = true

		if task.AgentID != nil {
			s.freeAgent(ctx, *task.AgentID, true)
		}
		if task.StartedAt != nil {
			s.metrics.TaskCompleted(time.Since(*task.StartedAt))
		} else {
			s.metrics.TaskCompleted(0)
		}
		if err := s.events.TaskCompleted(ctx, id, task.TraceID(), result); err != nil {
			s.logger.Warn("Completed event publish failed", "task_id", id, "error", err)
		}

		task.Status = models.TaskStatusCompleted
		s.mirrorTask(ctx, task)
		s.fanOut(ctx, id)
		s.logger.Info("Task completed", "task_id", id)
		return nil
	})
	return completed, err
}

// FailTask records a failure. Recoverable failures below the retry bound
// park the task as retrying with exponential backoff; everything else is
// terminal. The owning agent is freed either way.
func (s *Scheduler) FailTask(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error {
	return s.withTaskLock(ctx, id, func() error {
		task, err := s.stores.Tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			return nil
		}

		agentFailed := task.AgentID != nil
		retryCount := task.RetryCount()

		if retry && retryCount < s.taskCfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(retryCount))) * s.taskCfg.RetryDelay
			retryAt := time.Now().UTC().Add(backoff)
			ok, err := s.stores.Tasks.MarkRetrying(ctx, id, retryCount+1, errMsg, retryAt)
			if err != nil {
				return err
			}
			if ok {
				s.metrics.TaskRetried()
				s.logger.Info("Task parked for retry",
					"task_id", id, "attempt", retryCount+1, "retry_at", retryAt)
			}
		} else {
			ok, err := s.stores.Tasks.Fail(ctx, id, errMsg, time.Now().UTC())
			if err != nil {
				return err
			}
			if ok {
				s.metrics.TaskFailed(errMsg)
				s.logger.Warn("Task failed terminally",
					"task_id", id, "retry_count", retryCount, "error", errMsg)
			}
		}

		if agentFailed {
			s.freeAgent(ctx, *task.AgentID, false)
		}
		if err := s.events.TaskFailed(ctx, id, task.TraceID(), errMsg, retry); err != nil {
			s.logger.Warn("Failed event publish failed", "task_id", id, "error", err)
		}
		if fresh, gerr := s.stores.Tasks.Get(ctx, id); gerr == nil {
			s.mirrorTask(ctx, fresh)
		}
		return nil
	})
}

// CancelTask cancels a task that has not started. Terminal tasks are a
// no-op returning false; a running task is rejected with INVALID_STATE.
func (s *Scheduler) CancelTask(ctx context.Context, id uuid.UUID) (bool, error) {
	var cancelled bool
	err := s.withTaskLock(ctx, id, func() error {
		task, err := s.stores.Tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		if task.Status.Terminal() {
			return nil
		}
		if task.Status == models.TaskStatusInProgress {
			return fmt.Errorf("task %s is in_progress: %w", id, models.ErrInvalidState)
		}

		ok, err := s.stores.Tasks.Cancel(ctx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cancelled = true
		s.ready.Remove(id)

		if task.AgentID != nil && task.Status == models.TaskStatusQueued {
			s.freeAgent(ctx, *task.AgentID, false)
		}
		if err := s.events.TaskCancelled(ctx, id, task.TraceID()); err != nil {
			s.logger.Warn("Cancelled event publish failed", "task_id", id, "error", err)
		}
		task.Status = models.TaskStatusCancelled
		s.mirrorTask(ctx, task)
		s.logger.Info("Task cancelled", "task_id", id)
		return nil
	})
	return cancelled, err
}

// AddDependency records that task must wait for dependsOn. Self-edges,
// duplicates, unknown ids, and cycles are rejected.
func (s *Scheduler) AddDependency(ctx context.Context, taskID, dependsOn uuid.UUID) error {
	if _, err := s.stores.Tasks.Get(ctx, taskID); err != nil {
		return err
	}
	if _, err := s.stores.Tasks.Get(ctx, dependsOn); err != nil {
		return err
	}
	dep := &models.TaskDependency{
		ID:              uuid.New(),
		TaskID:          taskID,
		DependsOnTaskID: dependsOn,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.stores.Dependencies.Add(ctx, dep); err != nil {
		return err
	}
	// Evict so the next tick re-loads the task with its fresh blocked set.
	s.ready.Remove(taskID)
	s.logger.Info("Dependency added", "task_id", taskID, "depends_on", dependsOn)
	return nil
}

// ReleaseAgentTasks re-queues everything a dead or terminated agent owned.
// Implements the agent manager's TaskReleaser.
func (s *Scheduler) ReleaseAgentTasks(ctx context.Context, agentID uuid.UUID, reason string) error {
	owned, err := s.stores.Tasks.ListByAgent(ctx, agentID,
		models.TaskStatusQueued, models.TaskStatusInProgress)
	if err != nil {
		return err
	}
	var firstErr error
	for _, task := range owned {
		if err := s.FailTask(ctx, task.ID, reason, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Start launches the scheduling tick and the reconciliation sweep.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.schedCfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.isLeader == nil || s.isLeader() {
					s.tick(ctx)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if s.isLeader == nil || s.isLeader() {
					s.reconcile(ctx)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loops and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// tick is one scheduling pass: promote due retries, refresh the ready set,
// age scores, then drain a batch into assignments.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.stores.Tasks.ListRetryDue(ctx, now)
	if err != nil {
		s.logger.Error("Retry-due query failed", "error", err)
	} else {
		for _, task := range due {
			if _, err := s.stores.Tasks.Requeue(ctx, task.ID); err != nil {
				s.logger.Error("Retry requeue failed", "task_id", task.ID, "error", err)
			}
		}
	}

	pending, err := s.stores.Tasks.ListSchedulable(ctx, 500)
	if err != nil {
		s.logger.Error("Schedulable query failed", "error", err)
		return
	}
	for _, task := range pending {
		if s.ready.Contains(task.ID) {
			continue
		}
		blockedBy, err := s.incompleteDeps(ctx, task.ID)
		if err != nil {
			s.logger.Error("Dependency load failed", "task_id", task.ID, "error", err)
			continue
		}
		s.ready.Add(task.ID, task.Priority, task.Deadline, task.CreatedAt, blockedBy)
	}

	// Dependencies complete in other processes too; the in-memory blocked
	// sets only see completions routed through this instance. Re-check
	// blocked entries against the store and promote the satisfied ones.
	for _, id := range s.ready.Blocked() {
		n, err := s.stores.Dependencies.CountIncomplete(ctx, id)
		if err != nil {
			s.logger.Error("Incomplete count failed", "task_id", id, "error", err)
			continue
		}
		if n == 0 && s.ready.Promote(id) {
			s.logger.Debug("Dependent unblocked", "task_id", id)
		}
	}

	s.ready.Rescore(now)
	s.metrics.SetQueueDepth(s.ready.Len())

	for _, entry := range s.ready.PopN(s.schedCfg.BatchSize) {
		if err := s.dispatch(ctx, entry); err != nil {
			s.logger.Debug("Dispatch deferred", "task_id", entry.TaskID, "reason", err)
			// Back into the set for the next tick.
			s.ready.Add(entry.TaskID, entry.Priority, entry.Deadline, entry.EnqueuedAt, nil)
		}
	}
}

// dispatch finds an eligible agent for one ready task and assigns it.
func (s *Scheduler) dispatch(ctx context.Context, entry *Entry) error {
	task, err := s.stores.Tasks.Get(ctx, entry.TaskID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if task.Status != models.TaskStatusPending {
		return nil
	}

	agentType, _ := task.AgentTypeHint()
	candidates, err := s.stores.Agents.ListIdle(ctx, agentType)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no idle agent for type %q: %w", agentType, models.ErrNotFound)
	}
	agent, err := s.selector.Select(ctx, candidates)
	if err != nil {
		return err
	}
	return s.Assign(ctx, task.ID, agent.ID)
}

// reconcile repairs state after crashes: tasks owned by dead agents are
// failed with retry, and queued tasks with no live agent return to pending.
func (s *Scheduler) reconcile(ctx context.Context) {
	orphans, err := s.stores.Tasks.ListOrphaned(ctx)
	if err != nil {
		s.logger.Error("Orphan query failed", "error", err)
		return
	}
	for _, task := range orphans {
		switch task.Status {
		case models.TaskStatusInProgress:
			if err := s.FailTask(ctx, task.ID, "agent_lost", true); err != nil {
				s.logger.Error("Orphan fail failed", "task_id", task.ID, "error", err)
			}
		case models.TaskStatusQueued:
			if _, err := s.stores.Tasks.Requeue(ctx, task.ID); err != nil {
				s.logger.Error("Orphan requeue failed", "task_id", task.ID, "error", err)
			}
		}
	}
	if len(orphans) > 0 {
		s.logger.Info("Reconciled orphaned tasks", "count", len(orphans))
	}
}

// fanOut promotes dependents of a completed task whose dependency sets are
// now satisfied.
func (s *Scheduler) fanOut(ctx context.Context, completedID uuid.UUID) {
	s.ready.Unblock(completedID)
	dependents, err := s.stores.Dependencies.Dependents(ctx, completedID)
	if err != nil {
		s.logger.Error("Dependent query failed", "task_id", completedID, "error", err)
		return
	}
	for _, depID := range dependents {
		n, err := s.stores.Dependencies.CountIncomplete(ctx, depID)
		if err != nil {
			s.logger.Error("Incomplete count failed", "task_id", depID, "error", err)
			continue
		}
		if n == 0 && s.ready.Promote(depID) {
			s.logger.Debug("Dependent unblocked", "task_id", depID)
		}
	}
}

// incompleteDeps lists the dependency ids of taskID that are not completed.
func (s *Scheduler) incompleteDeps(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	deps, err := s.stores.Dependencies.ListForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var blocked []uuid.UUID
	for _, d := range deps {
		dep, err := s.stores.Tasks.Get(ctx, d.DependsOnTaskID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if dep.Status != models.TaskStatusCompleted {
			blocked = append(blocked, dep.ID)
		}
	}
	return blocked, nil
}

// freeAgent returns an agent to idle after its task ended, bumping the
// completion or failure counter.
func (s *Scheduler) freeAgent(ctx context.Context, agentID uuid.UUID, succeeded bool) {
	if _, err := s.stores.Agents.UpdateStatusFrom(ctx, agentID,
		[]models.AgentStatus{models.AgentStatusBusy}, models.AgentStatusIdle); err != nil {
		s.logger.Warn("Agent release failed", "agent_id", agentID, "error", err)
	}
	counter := counterFailed(agentID)
	if succeeded {
		counter = counterCompleted(agentID)
	}
	if _, err := s.states.IncrCounter(ctx, counter, 1); err != nil {
		s.logger.Debug("Outcome counter bump failed", "agent_id", agentID, "error", err)
	}
}

// withTaskLock serializes task mutations on lock:task:<id>.
func (s *Scheduler) withTaskLock(ctx context.Context, id uuid.UUID, fn func() error) error {
	lock, err := s.states.AcquireLock(ctx, "task:"+id.String(), taskLockTTL, taskLockTimeout)
	if err != nil {
		return fmt.Errorf("task %s lock: %w", id, models.ErrDependencyUnavailable)
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("Lock release failed", "task_id", id, "error", rerr)
		}
	}()
	return fn()
}

// mirrorTask pushes the task's hot state into the state store; failures
// only log.
func (s *Scheduler) mirrorTask(ctx context.Context, t *models.Task) {
	hot := map[string]any{
		"status":   string(t.Status),
		"trace_id": t.TraceID(),
	}
	if t.AgentID != nil {
		hot["agent_id"] = t.AgentID.String()
	}
	if t.Metadata != nil {
		if p, ok := t.Metadata[models.MetaProgress]; ok {
			hot["progress"] = p
		}
	}
	if err := s.states.SetTaskState(ctx, t.ID.String(), hot); err != nil {
		s.logger.Debug("Task mirror failed", "task_id", t.ID, "error", err)
	}
}
