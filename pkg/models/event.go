package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a bus event. The prefix selects the topic the event is
// published to.
type EventType string

// Agent lifecycle events (topic agent.lifecycle).
const (
	EventAgentSpawned   EventType = "agent.spawned"
	EventAgentStarted   EventType = "agent.started"
	EventAgentStopped   EventType = "agent.stopped"
	EventAgentFailed    EventType = "agent.failed"
	EventAgentHeartbeat EventType = "agent.heartbeat"
)

// Task events (topic agent.tasks).
const (
	EventTaskCreated   EventType = "task.created"
	EventTaskAssigned  EventType = "task.assigned"
	EventTaskStarted   EventType = "task.started"
	EventTaskProgress  EventType = "task.progress"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
)

// Inter-agent communication events (topic agent.communication).
const (
	EventAgentMessage   EventType = "agent.message"
	EventAgentRequest   EventType = "agent.request"
	EventAgentResponse  EventType = "agent.response"
	EventAgentBroadcast EventType = "agent.broadcast"
)

// State events (topic agent.state).
const (
	EventStateUpdated EventType = "state.updated"
	EventStateSynced  EventType = "state.synced"
)

// System events (topic system.events).
const (
	EventSystemAlert  EventType = "system.alert"
	EventSystemHealth EventType = "system.health"
)

// EventDeadLetter wraps a record that exhausted its consumer retry budget
// (topic dead.letter).
const EventDeadLetter EventType = "dead.letter"

// Envelope is the wire format for every bus event.
type Envelope struct {
	EventID   uuid.UUID      `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	AgentID   *uuid.UUID     `json:"agent_id,omitempty"`
	TaskID    *uuid.UUID     `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// NewEnvelope mints an envelope with a fresh event ID and UTC timestamp.
// An empty traceID gets a new one so downstream correlation never breaks.
func NewEnvelope(eventType EventType, traceID string) Envelope {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
		Payload:   map[string]any{},
	}
}

// AuditEvent is the persisted form of a bus event, kept for replay and
// debugging.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id"`
	EventType EventType      `json:"event_type"`
	AgentID   *uuid.UUID     `json:"agent_id,omitempty"`
	TaskID    *uuid.UUID     `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	TraceID   string         `json:"trace_id"`
	CreatedAt time.Time      `json:"created_at"`
}
