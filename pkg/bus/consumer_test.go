package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/models"
)

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32          { return nil }
func (s *fakeSession) MemberID() string                    { return "test-member" }
func (s *fakeSession) GenerationID() int32                 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit()                             {}
func (s *fakeSession) Context() context.Context            { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                                { return TopicAgentTasks }
func (c *fakeClaim) Partition() int32                             { return 0 }
func (c *fakeClaim) InitialOffset() int64                         { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64                   { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage     { return c.msgs }

type captureDLQ struct {
	envs []models.Envelope
}

func (d *captureDLQ) Publish(_ context.Context, _ string, env models.Envelope) error {
	d.envs = append(d.envs, env)
	return nil
}

func (d *captureDLQ) Close() error { return nil }

func newTestConsumer(dlq Publisher) *Consumer {
	return &Consumer{
		dlq:      dlq,
		logger:   slog.With("component", "bus.consumer", "group_id", "test"),
		handlers: make(map[models.EventType]Handler),
		attempts: make(map[string]int),
	}
}

func record(t *testing.T, offset int64, eventType models.EventType) *sarama.ConsumerMessage {
	t.Helper()
	env := models.NewEnvelope(eventType, "")
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{
		Topic:  TopicAgentTasks,
		Offset: offset,
		Value:  body,
	}
}

func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, m := range msgs {
		claim.msgs <- m
	}
	close(claim.msgs)
	return claim
}

func TestConsumeClaim_FailedRecordHoldsCommitPosition(t *testing.T) {
	c := newTestConsumer(&captureDLQ{})
	c.On(models.EventTaskAssigned, func(context.Context, models.Envelope) error {
		return errors.New("boom")
	})
	var handled int
	c.On(models.EventTaskStarted, func(context.Context, models.Envelope) error {
		handled++
		return nil
	})

	session := &fakeSession{ctx: context.Background()}
	err := c.ConsumeClaim(session, claimOf(
		record(t, 0, models.EventTaskAssigned),
		record(t, 1, models.EventTaskStarted),
	))

	require.Error(t, err, "session must end so the failed offset is redelivered")
	assert.Empty(t, session.marked, "no offset may be committed past the failed record")
	assert.Zero(t, handled, "later records wait behind the failed one")
}

func TestConsumeClaim_DeadLetterAfterMaxAttempts(t *testing.T) {
	dlq := &captureDLQ{}
	c := newTestConsumer(dlq)
	c.OnAll(func(_ context.Context, env models.Envelope) error {
		if env.EventType == models.EventTaskAssigned {
			return errors.New("boom")
		}
		return nil
	})

	poison := record(t, 0, models.EventTaskAssigned)

	// The first deliveries end the session with the offset uncommitted.
	for i := 0; i < maxDeliveryAttempts-1; i++ {
		session := &fakeSession{ctx: context.Background()}
		require.Error(t, c.ConsumeClaim(session, claimOf(poison)))
		assert.Empty(t, session.marked)
		assert.Empty(t, dlq.envs)
	}

	// The final delivery exhausts the bound: dead-letter, commit, move on.
	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(
		poison,
		record(t, 1, models.EventTaskStarted),
	)))

	require.Len(t, dlq.envs, 1)
	assert.Equal(t, models.EventDeadLetter, dlq.envs[0].EventType)
	assert.Equal(t, TopicAgentTasks, dlq.envs[0].Payload["x-original-topic"])
	assert.Equal(t, []int64{0, 1}, session.marked)
}

func TestConsumeClaim_UndecodableRecordDeadLettered(t *testing.T) {
	dlq := &captureDLQ{}
	c := newTestConsumer(dlq)
	c.OnAll(func(context.Context, models.Envelope) error { return nil })

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(&sarama.ConsumerMessage{
		Topic:  TopicAgentTasks,
		Offset: 7,
		Value:  []byte("not json"),
	})))

	require.Len(t, dlq.envs, 1)
	assert.Equal(t, "not json", dlq.envs[0].Payload["body"])
	assert.Equal(t, []int64{7}, session.marked)
}

func TestConsumeClaim_UnhandledEventTypeCommitted(t *testing.T) {
	c := newTestConsumer(&captureDLQ{})
	c.On(models.EventTaskAssigned, func(context.Context, models.Envelope) error {
		return errors.New("boom")
	})

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(
		record(t, 3, models.EventAgentHeartbeat),
	)))
	assert.Equal(t, []int64{3}, session.marked)
}
