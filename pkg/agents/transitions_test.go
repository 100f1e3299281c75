package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/agentmesh/pkg/models"
)

func TestTransitionAllowed(t *testing.T) {
	allowed := [][2]models.AgentStatus{
		{models.AgentStatusStarting, models.AgentStatusIdle},
		{models.AgentStatusStarting, models.AgentStatusFailed},
		{models.AgentStatusIdle, models.AgentStatusBusy},
		{models.AgentStatusIdle, models.AgentStatusOffline},
		{models.AgentStatusBusy, models.AgentStatusIdle},
		{models.AgentStatusBusy, models.AgentStatusOffline},
		{models.AgentStatusStopping, models.AgentStatusOffline},
		{models.AgentStatusOffline, models.AgentStatusStarting},
	}
	for _, tc := range allowed {
		assert.True(t, TransitionAllowed(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}

	rejected := [][2]models.AgentStatus{
		{models.AgentStatusStarting, models.AgentStatusBusy},
		{models.AgentStatusOffline, models.AgentStatusIdle},
		{models.AgentStatusOffline, models.AgentStatusBusy},
		{models.AgentStatusFailed, models.AgentStatusIdle},
		{models.AgentStatusFailed, models.AgentStatusStarting},
		{models.AgentStatusIdle, models.AgentStatusStarting},
	}
	for _, tc := range rejected {
		assert.False(t, TransitionAllowed(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}
}

func TestFailedIsTerminal(t *testing.T) {
	for _, to := range []models.AgentStatus{
		models.AgentStatusStarting, models.AgentStatusIdle, models.AgentStatusBusy,
		models.AgentStatusStopping, models.AgentStatusOffline,
	} {
		assert.False(t, TransitionAllowed(models.AgentStatusFailed, to))
	}
}
