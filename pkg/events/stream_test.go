package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionBookkeeping(t *testing.T) {
	m := NewStreamManager(nil, time.Second)

	c := &Connection{ID: "conn-1", subscriptions: make(map[string]bool)}
	m.registerConnection(c)
	assert.Equal(t, 1, m.ActiveConnections())

	m.subscribe(c, ChannelTaskEvents)
	m.subscribe(c, ChannelAgentEvents)
	assert.Equal(t, 1, m.subscriberCount(ChannelTaskEvents))
	assert.Equal(t, 1, m.subscriberCount(ChannelAgentEvents))
	assert.True(t, c.subscriptions[ChannelTaskEvents])

	m.unsubscribe(c, ChannelTaskEvents)
	assert.Equal(t, 0, m.subscriberCount(ChannelTaskEvents))
	assert.False(t, c.subscriptions[ChannelTaskEvents])
	assert.True(t, c.subscriptions[ChannelAgentEvents])
}

func TestSubscribeTwoConnections(t *testing.T) {
	m := NewStreamManager(nil, time.Second)

	a := &Connection{ID: "conn-a", subscriptions: make(map[string]bool)}
	b := &Connection{ID: "conn-b", subscriptions: make(map[string]bool)}
	m.registerConnection(a)
	m.registerConnection(b)

	m.subscribe(a, ChannelTaskEvents)
	m.subscribe(b, ChannelTaskEvents)
	assert.Equal(t, 2, m.subscriberCount(ChannelTaskEvents))

	m.unsubscribe(a, ChannelTaskEvents)
	assert.Equal(t, 1, m.subscriberCount(ChannelTaskEvents))

	m.unsubscribe(b, ChannelTaskEvents)
	assert.Equal(t, 0, m.subscriberCount(ChannelTaskEvents),
		"empty channel set is removed")
}
