package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmesh/agentmesh/pkg/models"
)

func TestTopicFor(t *testing.T) {
	cases := map[models.EventType]string{
		models.EventAgentSpawned:   TopicAgentLifecycle,
		models.EventAgentStopped:   TopicAgentLifecycle,
		models.EventAgentHeartbeat: TopicAgentLifecycle,
		models.EventTaskCreated:    TopicAgentTasks,
		models.EventTaskAssigned:   TopicAgentTasks,
		models.EventTaskCompleted:  TopicAgentTasks,
		models.EventAgentMessage:   TopicAgentCommunication,
		models.EventStateUpdated:   TopicAgentState,
		models.EventSystemAlert:    TopicSystemEvents,
		models.EventDeadLetter:     TopicDeadLetter,
	}
	for eventType, topic := range cases {
		assert.Equal(t, topic, TopicFor(eventType), "event %s", eventType)
	}
}

func TestGroupID(t *testing.T) {
	assert.Equal(t, "agentmesh.ws-gateway", GroupID("agentmesh", "ws-gateway"))
	assert.Equal(t, "task-workers", GroupID("", "task-workers"))
}

func TestAllTopicsExcludesDeadLetter(t *testing.T) {
	assert.NotContains(t, AllTopics(), TopicDeadLetter)
	assert.Len(t, AllTopics(), 5)
}
