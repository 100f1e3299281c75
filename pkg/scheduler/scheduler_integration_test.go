package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/bus"
	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/database"
	"github.com/agentmesh/agentmesh/pkg/metrics"
	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// testScheduler builds a scheduler over live Postgres and Redis. batchSize 0
// keeps tick from dispatching, so ready-set contents stay observable.
func testScheduler(t *testing.T, batchSize int) (*Scheduler, *store.Stores) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")
	if dbURL == "" || redisURL == "" {
		t.Skip("DATABASE_URL or REDIS_URL not set; skipping scheduler integration test")
	}

	ctx := context.Background()
	client, err := database.NewClient(ctx, database.DefaultConfig(dbURL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	states, err := state.New(ctx, redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })

	stores := store.New(client.DB())
	events := bus.NewEvents(bus.NopPublisher{}, "scheduler-test")
	taskCfg := config.TaskConfig{
		DefaultTimeout: 5 * time.Minute,
		MaxRetries:     2,
		RetryDelay:     time.Second,
		QueueMaxSize:   100000,
	}
	schedCfg := config.SchedulerConfig{
		Strategy:    "priority",
		AgingFactor: 0.1,
		Interval:    time.Second,
		BatchSize:   batchSize,
	}
	s, err := New(stores, states, events, metrics.Default(), taskCfg, schedCfg, nil)
	require.NoError(t, err)
	return s, stores
}

func submitTestTask(t *testing.T, s *Scheduler) *models.Task {
	t.Helper()
	task, err := s.SubmitTask(context.Background(), SubmitRequest{
		Description: "integration test task",
		Priority:    5,
	})
	require.NoError(t, err)
	return task
}

func idleAgentFor(t *testing.T, stores *store.Stores) *models.Agent {
	t.Helper()
	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           uuid.New(),
		Name:         "sched-agent-" + uuid.NewString()[:8],
		Type:         models.AgentTypeResearch,
		Status:       models.AgentStatusIdle,
		Capabilities: models.DefaultCapabilities(),
		Config:       models.DefaultAgentConfig(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, stores.Agents.Create(context.Background(), agent))
	return agent
}

func TestTaskLifecycle(t *testing.T) {
	s, stores := testScheduler(t, 0)
	ctx := context.Background()

	task := submitTestTask(t, s)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	agent := idleAgentFor(t, stores)
	require.NoError(t, s.Assign(ctx, task.ID, agent.ID))
	require.NoError(t, s.StartTask(ctx, task.ID))
	require.NoError(t, s.ReportProgress(ctx, task.ID, 0.5, "halfway"))

	info, err := s.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, info.Status)
	assert.Equal(t, 0.5, info.Progress)
	assert.NotNil(t, info.EstimatedCompletion)

	done, err := s.CompleteTask(ctx, task.ID, map[string]any{"answer": "42"})
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.CompleteTask(ctx, task.ID, nil)
	require.NoError(t, err)
	assert.False(t, done, "second completion is a no-op")

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	freed, err := stores.Agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, freed.Status, "completion frees the agent")
}

func TestFailTaskParksForRetryThenTerminal(t *testing.T) {
	s, stores := testScheduler(t, 0)
	ctx := context.Background()

	task := submitTestTask(t, s)
	agent := idleAgentFor(t, stores)
	require.NoError(t, s.Assign(ctx, task.ID, agent.ID))
	require.NoError(t, s.StartTask(ctx, task.ID))

	require.NoError(t, s.FailTask(ctx, task.ID, "transient", true))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount())
	assert.Nil(t, got.AgentID, "retrying task is detached from its agent")

	// A non-recoverable failure is terminal regardless of remaining budget.
	require.NoError(t, s.FailTask(ctx, task.ID, "fatal", false))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestCancelTaskRules(t *testing.T) {
	s, stores := testScheduler(t, 0)
	ctx := context.Background()

	task := submitTestTask(t, s)
	cancelled, err := s.CancelTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	cancelled, err = s.CancelTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "terminal task cancels as a no-op")

	running := submitTestTask(t, s)
	agent := idleAgentFor(t, stores)
	require.NoError(t, s.Assign(ctx, running.ID, agent.ID))
	require.NoError(t, s.StartTask(ctx, running.ID))
	_, err = s.CancelTask(ctx, running.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState, "running task cannot be cancelled")
}

func TestTickPromotesDependentCompletedElsewhere(t *testing.T) {
	s, _ := testScheduler(t, 0)
	ctx := context.Background()

	dep := submitTestTask(t, s)
	blocked := submitTestTask(t, s)
	require.NoError(t, s.AddDependency(ctx, blocked.ID, dep.ID))

	s.tick(ctx)
	require.True(t, s.ready.Contains(blocked.ID))
	assert.Contains(t, s.ready.Blocked(), blocked.ID)

	// The dependency completes through a different scheduler instance, the
	// way a worker process reports. This instance's ready set never sees an
	// in-process unblock.
	other, _ := testScheduler(t, 0)
	done, err := other.CompleteTask(ctx, dep.ID, nil)
	require.NoError(t, err)
	require.True(t, done)

	s.tick(ctx)
	assert.True(t, s.ready.Contains(blocked.ID))
	assert.NotContains(t, s.ready.Blocked(), blocked.ID,
		"store recheck promotes the dependent")
	popped := s.ready.PopN(1000)
	var found bool
	for _, e := range popped {
		if e.TaskID == blocked.ID {
			found = true
		}
	}
	assert.True(t, found, "promoted task is dispatchable")
}
