package events

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/state"
	"github.com/agentmesh/agentmesh/pkg/store"
	"github.com/agentmesh/agentmesh/pkg/webhook"
)

// Gateway republishes bus events onto the Redis stream channels that
// StreamManager broadcasts from. It runs in its own consumer group so
// WebSocket fan-out never competes with the scheduler for offsets.
type Gateway struct {
	states *state.Store
	logger *slog.Logger
}

// NewGateway creates the republisher.
func NewGateway(states *state.Store) *Gateway {
	return &Gateway{
		states: states,
		logger: slog.With("component", "events.gateway"),
	}
}

// Republish routes an envelope to the stream channel matching its event
// family. Events outside the two streamed families are dropped.
func (g *Gateway) Republish(ctx context.Context, env models.Envelope) error {
	channel := channelFor(env.EventType)
	if channel == "" {
		return nil
	}
	if err := g.states.Publish(ctx, channel, env); err != nil {
		// Stream delivery is best effort. Failing the handler would
		// dead-letter the event for every other consumer of the group.
		g.logger.Warn("Failed to republish event",
			"event_type", env.EventType, "channel", channel, "error", err)
	}
	return nil
}

func channelFor(t models.EventType) string {
	switch {
	case strings.HasPrefix(string(t), "task."):
		return ChannelTaskEvents
	case strings.HasPrefix(string(t), "agent."), strings.HasPrefix(string(t), "state."):
		return ChannelAgentEvents
	default:
		return ""
	}
}

// AuditRecorder persists every bus event into the audit log.
type AuditRecorder struct {
	audit  *store.AuditStore
	logger *slog.Logger
}

// NewAuditRecorder creates the recorder.
func NewAuditRecorder(audit *store.AuditStore) *AuditRecorder {
	return &AuditRecorder{
		audit:  audit,
		logger: slog.With("component", "events.audit"),
	}
}

// Record appends the envelope to the audit log. Heartbeats are skipped, they
// would dominate the table without adding replay value.
func (r *AuditRecorder) Record(ctx context.Context, env models.Envelope) error {
	if env.EventType == models.EventAgentHeartbeat {
		return nil
	}
	e := &models.AuditEvent{
		ID:        env.EventID,
		EventType: env.EventType,
		AgentID:   env.AgentID,
		TaskID:    env.TaskID,
		Payload:   env.Payload,
		TraceID:   env.TraceID,
		CreatedAt: env.Timestamp,
	}
	if err := r.audit.Append(ctx, e); err != nil {
		// Let the consumer retry; audit rows are the system of record
		// for event replay.
		return err
	}
	return nil
}

// WebhookTrigger feeds bus events into the webhook dispatcher.
type WebhookTrigger struct {
	webhooks *webhook.Service
	logger   *slog.Logger
}

// NewWebhookTrigger creates the trigger.
func NewWebhookTrigger(webhooks *webhook.Service) *WebhookTrigger {
	return &WebhookTrigger{
		webhooks: webhooks,
		logger:   slog.With("component", "events.webhook"),
	}
}

// Trigger fans the event out to matching webhooks. Heartbeats are skipped.
func (t *WebhookTrigger) Trigger(ctx context.Context, env models.Envelope) error {
	if env.EventType == models.EventAgentHeartbeat {
		return nil
	}
	data := map[string]any{
		"event_id":  env.EventID.String(),
		"trace_id":  env.TraceID,
		"timestamp": env.Timestamp,
		"payload":   env.Payload,
	}
	if env.AgentID != nil {
		data["agent_id"] = env.AgentID.String()
	}
	if env.TaskID != nil {
		data["task_id"] = env.TaskID.String()
	}
	if err := t.webhooks.TriggerEvent(ctx, env.EventType, data); err != nil {
		t.logger.Warn("Failed to trigger webhooks",
			"event_type", env.EventType, "error", err)
	}
	return nil
}
