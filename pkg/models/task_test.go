package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	live := []TaskStatus{TaskStatusPending, TaskStatusQueued, TaskStatusInProgress, TaskStatusRetrying}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestTaskRetryCount(t *testing.T) {
	assert.Equal(t, 0, (&Task{}).RetryCount())
	assert.Equal(t, 0, (&Task{Metadata: map[string]any{}}).RetryCount())
	assert.Equal(t, 2, (&Task{Metadata: map[string]any{MetaRetryCount: 2}}).RetryCount())
	assert.Equal(t, 2, (&Task{Metadata: map[string]any{MetaRetryCount: int64(2)}}).RetryCount())
	// JSON decoding produces float64
	assert.Equal(t, 2, (&Task{Metadata: map[string]any{MetaRetryCount: 2.0}}).RetryCount())
	assert.Equal(t, 0, (&Task{Metadata: map[string]any{MetaRetryCount: "2"}}).RetryCount())
}

func TestTaskTraceID(t *testing.T) {
	assert.Empty(t, (&Task{}).TraceID())
	task := &Task{Metadata: map[string]any{MetaTraceID: "abc-123"}}
	assert.Equal(t, "abc-123", task.TraceID())
}

func TestTaskAgentTypeHint(t *testing.T) {
	_, ok := (&Task{}).AgentTypeHint()
	assert.False(t, ok)

	_, ok = (&Task{Metadata: map[string]any{MetaAgentType: "warlock"}}).AgentTypeHint()
	assert.False(t, ok, "unknown types are ignored")

	hint, ok := (&Task{Metadata: map[string]any{MetaAgentType: "research"}}).AgentTypeHint()
	assert.True(t, ok)
	assert.Equal(t, AgentTypeResearch, hint)
}
