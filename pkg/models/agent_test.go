package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentActive(t *testing.T) {
	for _, s := range []AgentStatus{AgentStatusStarting, AgentStatusIdle, AgentStatusBusy} {
		assert.True(t, (&Agent{Status: s}).Active(), "%s", s)
	}
	for _, s := range []AgentStatus{AgentStatusStopping, AgentStatusOffline, AgentStatusFailed} {
		assert.False(t, (&Agent{Status: s}).Active(), "%s", s)
	}
}

func TestHasSkills(t *testing.T) {
	caps := AgentCapabilities{Skills: []string{"search", "summarize"}}

	assert.True(t, caps.HasSkills(nil), "no requirements always match")
	assert.True(t, caps.HasSkills([]string{"search"}))
	assert.True(t, caps.HasSkills([]string{"summarize", "search"}))
	assert.False(t, caps.HasSkills([]string{"search", "translate"}))

	empty := AgentCapabilities{}
	assert.True(t, empty.HasSkills(nil))
	assert.False(t, empty.HasSkills([]string{"search"}))
}

func TestDefaults(t *testing.T) {
	caps := DefaultCapabilities()
	assert.Equal(t, 5, caps.MaxConcurrentTasks)
	assert.NotNil(t, caps.Skills)

	cfg := DefaultAgentConfig()
	assert.Equal(t, 300, cfg.TimeoutSeconds)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.True(t, cfg.MemoryEnabled)
}
