package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// Publisher is the producing side of the bus.
type Publisher interface {
	Publish(ctx context.Context, key string, env models.Envelope) error
	Close() error
}

// Producer publishes envelopes via a synchronous Kafka producer. Delivery is
// acknowledged by all in-sync replicas before Publish returns.
type Producer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewProducerConfig returns the sarama config used by the control plane:
// idempotent, acks=all, gzip, bounded retries.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Compression = sarama.CompressionGZIP
	cfg.Producer.Return.Successes = true
	// Idempotent production requires a single in-flight request.
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer connects a synchronous producer to the given brokers.
func NewProducer(brokers []string) (*Producer, error) {
	p, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{
		producer: p,
		logger:   slog.With("component", "bus.producer"),
	}, nil
}

// Publish sends the envelope to the topic derived from its event type, keyed
// for per-entity ordering.
func (p *Producer) Publish(ctx context.Context, key string, env models.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: TopicFor(env.EventType),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %v: %w", env.EventType, err, models.ErrDependencyUnavailable)
	}
	p.logger.Debug("Event published",
		"event_type", env.EventType,
		"event_id", env.EventID,
		"topic", msg.Topic,
		"partition", partition,
		"offset", offset)
	return nil
}

// Close flushes and closes the underlying producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}

// Events wraps a Publisher with typed helpers so call sites stay terse and
// payload shapes stay consistent.
type Events struct {
	pub       Publisher
	serviceID string
}

// NewEvents creates the typed publisher facade. serviceID keys system events.
func NewEvents(pub Publisher, serviceID string) *Events {
	return &Events{pub: pub, serviceID: serviceID}
}

func (e *Events) publish(ctx context.Context, t models.EventType, key, traceID string, agentID, taskID *uuid.UUID, payload map[string]any) error {
	env := models.NewEnvelope(t, traceID)
	env.AgentID = agentID
	env.TaskID = taskID
	for k, v := range payload {
		env.Payload[k] = v
	}
	return e.pub.Publish(ctx, key, env)
}

// AgentSpawned announces a new agent. Keyed by agent id.
func (e *Events) AgentSpawned(ctx context.Context, a *models.Agent, traceID string) error {
	return e.publish(ctx, models.EventAgentSpawned, a.ID.String(), traceID, &a.ID, nil, map[string]any{
		"name":       a.Name,
		"agent_type": a.Type,
	})
}

// AgentStarted announces an agent reaching idle.
func (e *Events) AgentStarted(ctx context.Context, agentID uuid.UUID) error {
	return e.publish(ctx, models.EventAgentStarted, agentID.String(), "", &agentID, nil, nil)
}

// AgentStopped announces agent shutdown with its reason.
func (e *Events) AgentStopped(ctx context.Context, agentID uuid.UUID, reason string) error {
	return e.publish(ctx, models.EventAgentStopped, agentID.String(), "", &agentID, nil, map[string]any{
		"reason": reason,
	})
}

// AgentFailed announces an agent entering the failed state.
func (e *Events) AgentFailed(ctx context.Context, agentID uuid.UUID, detail string) error {
	return e.publish(ctx, models.EventAgentFailed, agentID.String(), "", &agentID, nil, map[string]any{
		"detail": detail,
	})
}

// AgentHeartbeat publishes a liveness beacon with utilization metrics.
func (e *Events) AgentHeartbeat(ctx context.Context, agentID uuid.UUID, metrics map[string]any) error {
	return e.publish(ctx, models.EventAgentHeartbeat, agentID.String(), "", &agentID, nil, metrics)
}

// TaskCreated announces task admission. Keyed by task id.
func (e *Events) TaskCreated(ctx context.Context, t *models.Task) error {
	return e.publish(ctx, models.EventTaskCreated, t.ID.String(), t.TraceID(), nil, &t.ID, map[string]any{
		"description": t.Description,
		"priority":    t.Priority,
	})
}

// TaskAssigned tells the owning worker about its new task. Keyed by agent id
// so one worker's assignments stay ordered.
func (e *Events) TaskAssigned(ctx context.Context, t *models.Task, agentID uuid.UUID) error {
	payload := map[string]any{
		"description": t.Description,
		"priority":    t.Priority,
		"input_data":  t.InputData,
	}
	if t.Deadline != nil {
		payload["deadline"] = t.Deadline
	}
	return e.publish(ctx, models.EventTaskAssigned, agentID.String(), t.TraceID(), &agentID, &t.ID, payload)
}

// TaskStarted announces execution start. Keyed by task id.
func (e *Events) TaskStarted(ctx context.Context, taskID uuid.UUID, agentID *uuid.UUID, traceID string) error {
	return e.publish(ctx, models.EventTaskStarted, taskID.String(), traceID, agentID, &taskID, nil)
}

// TaskProgress publishes a progress fraction in [0,1].
func (e *Events) TaskProgress(ctx context.Context, taskID uuid.UUID, traceID string, progress float64, message string) error {
	return e.publish(ctx, models.EventTaskProgress, taskID.String(), traceID, nil, &taskID, map[string]any{
		"progress": progress,
		"message":  message,
	})
}

// TaskCompleted announces terminal success with the result payload.
func (e *Events) TaskCompleted(ctx context.Context, taskID uuid.UUID, traceID string, result map[string]any) error {
	return e.publish(ctx, models.EventTaskCompleted, taskID.String(), traceID, nil, &taskID, map[string]any{
		"result": result,
	})
}

// TaskFailed announces a failure; retry tells the scheduler whether the
// failure is recoverable.
func (e *Events) TaskFailed(ctx context.Context, taskID uuid.UUID, traceID, errMsg string, retry bool) error {
	return e.publish(ctx, models.EventTaskFailed, taskID.String(), traceID, nil, &taskID, map[string]any{
		"error": errMsg,
		"retry": retry,
	})
}

// TaskCancelled announces cancellation.
func (e *Events) TaskCancelled(ctx context.Context, taskID uuid.UUID, traceID string) error {
	return e.publish(ctx, models.EventTaskCancelled, taskID.String(), traceID, nil, &taskID, nil)
}

// SystemAlert publishes an operator-facing alert. Keyed by service id.
func (e *Events) SystemAlert(ctx context.Context, severity, message string, detail map[string]any) error {
	payload := map[string]any{
		"severity": severity,
		"message":  message,
	}
	for k, v := range detail {
		payload[k] = v
	}
	return e.publish(ctx, models.EventSystemAlert, e.serviceID, "", nil, nil, payload)
}

// SystemHealth publishes a periodic health summary. Keyed by service id.
func (e *Events) SystemHealth(ctx context.Context, components map[string]any) error {
	return e.publish(ctx, models.EventSystemHealth, e.serviceID, "", nil, nil, components)
}

// NopPublisher drops every event. Used in tests and during degraded startup
// when Kafka is unreachable.
type NopPublisher struct{}

// Publish discards the envelope.
func (NopPublisher) Publish(context.Context, string, models.Envelope) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
