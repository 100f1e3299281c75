package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/database"
	"github.com/agentmesh/agentmesh/pkg/models"
)

func testStores(t *testing.T) *Stores {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping database integration test")
	}
	client, err := database.NewClient(context.Background(), database.DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client.DB())
}

func createTask(t *testing.T, stores *Stores) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:          uuid.New(),
		Description: "integration test task",
		Status:      models.TaskStatusPending,
		Metadata:    map[string]any{models.MetaRetryCount: 0},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, stores.Tasks.Create(context.Background(), task))
	return task
}

func createIdleAgent(t *testing.T, stores *Stores) *models.Agent {
	t.Helper()
	now := time.Now().UTC()
	agent := &models.Agent{
		ID:           uuid.New(),
		Name:         "integration-agent-" + uuid.NewString()[:8],
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

func TestTaskTerminalImmutability(t *testing.T) {
	stores := testStores(t)
	ctx := context.Background()
	task := createTask(t, stores)
	now := time.Now().UTC()

	ok, err := stores.Tasks.Complete(ctx, task.ID, map[string]any{"answer": "42"}, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Every mutation against a terminal row affects zero rows.
	ok, err = stores.Tasks.Complete(ctx, task.ID, map[string]any{"answer": "other"}, now)
	require.NoError(t, err)
	assert.False(t, ok, "completion is idempotent")
	ok, err = stores.Tasks.Fail(ctx, task.ID, "too late", now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = stores.Tasks.Cancel(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = stores.Tasks.MarkRetrying(ctx, task.ID, 1, "too late", now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, "42", got.OutputData["answer"])
}

func TestTaskStartAndProgressGuards(t *testing.T) {
	stores := testStores(t)
	ctx := context.Background()
	task := createTask(t, stores)
	agent := createIdleAgent(t, stores)
	now := time.Now().UTC()

	ok, err := stores.Tasks.Start(ctx, task.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "pending task cannot start")
	ok, err = stores.Tasks.SetProgress(ctx, task.ID, 0.5, "halfway")
	require.NoError(t, err)
	assert.False(t, ok, "progress requires in_progress")

	ok, err = stores.Tasks.Assign(ctx, task.ID, agent.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = stores.Tasks.Start(ctx, task.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = stores.Tasks.SetProgress(ctx, task.ID, 0.5, "halfway")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, got.Status)
	assert.Equal(t, 0.5, got.Metadata[models.MetaProgress])
	require.NotNil(t, got.StartedAt)
}

func TestTaskRetryFlow(t *testing.T) {
	stores := testStores(t)
	ctx := context.Background()
	task := createTask(t, stores)

	retryAt := time.Now().UTC().Add(-time.Second)
	ok, err := stores.Tasks.MarkRetrying(ctx, task.ID, 1, "transient", retryAt)
	require.NoError(t, err)
	require.True(t, ok)

	due, err := stores.Tasks.ListRetryDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	var found bool
	for _, d := range due {
		if d.ID == task.ID {
			found = true
			assert.Equal(t, 1, d.RetryCount())
		}
	}
	assert.True(t, found, "elapsed backoff makes the task due")

	ok, err = stores.Tasks.Requeue(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Nil(t, got.AgentID)
}

func TestAssignTaskToAgentTransaction(t *testing.T) {
	stores := testStores(t)
	ctx := context.Background()
	task := createTask(t, stores)
	agent := createIdleAgent(t, stores)

	ok, err := stores.AssignTaskToAgent(ctx, task.ID, agent.ID)
	require.NoError(t, err)
	require.True(t, ok)

	gotTask, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, gotTask.Status)
	require.NotNil(t, gotTask.AgentID)
	assert.Equal(t, agent.ID, *gotTask.AgentID)
	gotAgent, err := stores.Agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusBusy, gotAgent.Status)

	// The agent is busy now, so a second task must not be queued on it. The
	// whole transaction rolls back, leaving the task untouched.
	second := createTask(t, stores)
	ok, err = stores.AssignTaskToAgent(ctx, second.ID, agent.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	gotSecond, err := stores.Tasks.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, gotSecond.Status)
	assert.Nil(t, gotSecond.AgentID)
}

func TestDependencyCycleRejected(t *testing.T) {
	stores := testStores(t)
	ctx := context.Background()
	a := createTask(t, stores)
	b := createTask(t, stores)
	c := createTask(t, stores)

	addEdge := func(task, dependsOn uuid.UUID) error {
		return stores.Dependencies.Add(ctx, &models.TaskDependency{
			ID:              uuid.New(),
			TaskID:          task,
			DependsOnTaskID: dependsOn,
			CreatedAt:       time.Now().UTC(),
		})
	}

	require.NoError(t, addEdge(b.ID, a.ID))
	require.NoError(t, addEdge(c.ID, b.ID))

	assert.ErrorIs(t, addEdge(a.ID, c.ID), models.ErrCyclicDependency,
		"a -> c closes the cycle a <- b <- c")
	assert.ErrorIs(t, addEdge(a.ID, a.ID), models.ErrCyclicDependency, "self-edge")
	assert.True(t, models.IsValidationError(addEdge(b.ID, a.ID)), "duplicate edge")
}

func TestDependencyCompletionCount(t *testing.T) {
	stores := testStores(t)
	ctx := context.Background()
	dep1 := createTask(t, stores)
	dep2 := createTask(t, stores)
	blocked := createTask(t, stores)

	for _, d := range []uuid.UUID{dep1.ID, dep2.ID} {
		require.NoError(t, stores.Dependencies.Add(ctx, &models.TaskDependency{
			ID:              uuid.New(),
			TaskID:          blocked.ID,
			DependsOnTaskID: d,
			CreatedAt:       time.Now().UTC(),
		}))
	}

	n, err := stores.Dependencies.CountIncomplete(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dependents, err := stores.Dependencies.Dependents(ctx, dep1.ID)
	require.NoError(t, err)
	assert.Contains(t, dependents, blocked.ID)

	now := time.Now().UTC()
	ok, err := stores.Tasks.Complete(ctx, dep1.ID, nil, now)
	require.NoError(t, err)
	require.True(t, ok)
	n, err = stores.Dependencies.CountIncomplete(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A failed dependency still blocks; only completion satisfies the edge.
	ok, err = stores.Tasks.Fail(ctx, dep2.ID, "boom", now)
	require.NoError(t, err)
	require.True(t, ok)
	n, err = stores.Dependencies.CountIncomplete(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
