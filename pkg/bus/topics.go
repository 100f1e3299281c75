// Package bus implements the Kafka event bus: topic layout, the JSON
// envelope codec, a synchronous producer, and a consumer-group wrapper with
// dead-letter handling.
package bus

import "github.com/agentmesh/agentmesh/pkg/models"

// Topic names.
const (
	TopicAgentLifecycle     = "agent.lifecycle"
	TopicAgentTasks         = "agent.tasks"
	TopicAgentCommunication = "agent.communication"
	TopicAgentState         = "agent.state"
	TopicSystemEvents       = "system.events"
	TopicDeadLetter         = "dead.letter"
)

// GroupID namespaces a consumer-group role under the configured base group
// id, so parallel deployments sharing a cluster keep distinct offsets.
func GroupID(base, role string) string {
	if base == "" {
		return role
	}
	return base + "." + role
}

// AllTopics returns every topic except dead.letter, in consume order.
func AllTopics() []string {
	return []string{
		TopicAgentLifecycle,
		TopicAgentTasks,
		TopicAgentCommunication,
		TopicAgentState,
		TopicSystemEvents,
	}
}

// TopicFor maps an event type to the topic it is published on. The prefix of
// the type selects the topic.
func TopicFor(t models.EventType) string {
	switch t {
	case models.EventAgentSpawned, models.EventAgentStarted,
		models.EventAgentStopped, models.EventAgentFailed,
		models.EventAgentHeartbeat:
		return TopicAgentLifecycle
	case models.EventTaskCreated, models.EventTaskAssigned,
		models.EventTaskStarted, models.EventTaskProgress,
		models.EventTaskCompleted, models.EventTaskFailed,
		models.EventTaskCancelled:
		return TopicAgentTasks
	case models.EventAgentMessage, models.EventAgentRequest,
		models.EventAgentResponse, models.EventAgentBroadcast:
		return TopicAgentCommunication
	case models.EventStateUpdated, models.EventStateSynced:
		return TopicAgentState
	case models.EventDeadLetter:
		return TopicDeadLetter
	default:
		return TopicSystemEvents
	}
}
