package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(EventTaskCreated, "trace-1")
	assert.Equal(t, EventTaskCreated, env.EventType)
	assert.Equal(t, "trace-1", env.TraceID)
	assert.NotEqual(t, uuid.Nil, env.EventID)
	assert.False(t, env.Timestamp.IsZero())
	assert.NotNil(t, env.Payload)
}

func TestNewEnvelope_MintsTraceID(t *testing.T) {
	env := NewEnvelope(EventAgentSpawned, "")
	require.NotEmpty(t, env.TraceID)
	_, err := uuid.Parse(env.TraceID)
	assert.NoError(t, err, "minted trace id should be a UUID")
}

func TestWebhookSubscribed(t *testing.T) {
	all := &Webhook{}
	assert.True(t, all.Subscribed(EventTaskCompleted), "empty event list subscribes to everything")

	scoped := &Webhook{Events: []EventType{EventTaskCompleted, EventTaskFailed}}
	assert.True(t, scoped.Subscribed(EventTaskCompleted))
	assert.False(t, scoped.Subscribed(EventAgentSpawned))
}
