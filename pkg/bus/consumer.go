package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/IBM/sarama"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// Handler processes one decoded envelope. Returning an error leaves the
// offset unmarked so the record is redelivered.
type Handler func(ctx context.Context, env models.Envelope) error

// maxDeliveryAttempts bounds redeliveries before a record moves to
// dead.letter.
const maxDeliveryAttempts = 3

// Consumer runs a Kafka consumer group over the bus topics, dispatching each
// record to the handler registered for its event type. Offsets are committed
// manually, only after the handler succeeds or the record is dead-lettered.
type Consumer struct {
	group    sarama.ConsumerGroup
	topics   []string
	dlq      Publisher
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers map[models.EventType]Handler

	attemptsMu sync.Mutex
	attempts   map[string]int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumerConfig returns the sarama config used by all consumer groups:
// earliest reset, manual commit, bounded in-flight batch.
func NewConsumerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true
	cfg.ChannelBufferSize = 50
	return cfg
}

// NewConsumer creates a consumer group over the given topics. dlq publishes
// exhausted records to dead.letter; pass NopPublisher to disable.
func NewConsumer(brokers []string, groupID string, topics []string, dlq Publisher) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", groupID, err)
	}
	return &Consumer{
		group:    group,
		topics:   topics,
		dlq:      dlq,
		logger:   slog.With("component", "bus.consumer", "group_id", groupID),
		handlers: make(map[models.EventType]Handler),
		attempts: make(map[string]int),
	}, nil
}

// On registers the handler for an event type. Later registrations replace
// earlier ones.
func (c *Consumer) On(t models.EventType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// OnAll registers a catch-all handler invoked for every event type that has
// no specific handler.
func (c *Consumer) OnAll(h Handler) {
	c.On("", h)
}

func (c *Consumer) handlerFor(t models.EventType) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.handlers[t]; ok {
		return h, true
	}
	h, ok := c.handlers[""]
	return h, ok
}

// Start begins consuming in a background goroutine until Stop or context
// cancellation. Rebalances re-enter Consume as sarama requires.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("Consumer group error", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.Error("Consume session ended", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop cancels the consume loop and closes the group.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim dispatches records from one partition claim. A handler
// failure below the attempt bound ends the session with the failed offset
// uncommitted; processing later records first would commit past it and lose
// it on the next rebalance.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.consumeMessage(session, msg); err != nil {
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// consumeMessage handles one record. A non-nil return means the record was
// neither handled nor dead-lettered and its offset must stay uncommitted.
func (c *Consumer) consumeMessage(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	var env models.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// Undecodable records go straight to dead.letter; retrying
		// cannot help.
		c.logger.Error("Dropping undecodable record",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		c.deadLetter(session.Context(), msg)
		session.MarkMessage(msg, "")
		session.Commit()
		return nil
	}

	h, ok := c.handlerFor(env.EventType)
	if !ok {
		session.MarkMessage(msg, "")
		session.Commit()
		return nil
	}

	key := recordKey(msg)
	if err := h(session.Context(), env); err != nil {
		attempts := c.bumpAttempts(key)
		c.logger.Warn("Handler failed",
			"event_type", env.EventType,
			"event_id", env.EventID,
			"attempt", attempts,
			"error", err)
		if attempts < maxDeliveryAttempts {
			return fmt.Errorf("handler for %s failed on attempt %d/%d: %w",
				env.EventType, attempts, maxDeliveryAttempts, err)
		}
		c.deadLetter(session.Context(), msg)
	}
	c.clearAttempts(key)
	session.MarkMessage(msg, "")
	session.Commit()
	return nil
}

// deadLetter republishes a record onto dead.letter, preserving its original
// coordinates in headers.
func (c *Consumer) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage) {
	env := models.NewEnvelope(models.EventDeadLetter, "")
	env.Payload["body"] = string(msg.Value)
	env.Payload["x-original-topic"] = msg.Topic
	env.Payload["x-original-partition"] = strconv.FormatInt(int64(msg.Partition), 10)
	env.Payload["x-original-offset"] = strconv.FormatInt(msg.Offset, 10)
	if err := c.dlq.Publish(ctx, string(msg.Key), env); err != nil {
		c.logger.Error("Dead-letter publish failed",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
	}
}

func recordKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func (c *Consumer) bumpAttempts(key string) int {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()
	c.attempts[key]++
	return c.attempts[key]
}

func (c *Consumer) clearAttempts(key string) {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()
	delete(c.attempts, key)
}
