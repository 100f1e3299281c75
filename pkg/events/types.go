// Package events bridges the Kafka bus to WebSocket clients through Redis
// pub/sub, and records every bus event into the audit log.
package events

// Stream channels clients may subscribe to.
const (
	ChannelAgentEvents = "agent.events"
	ChannelTaskEvents  = "task.events"
)

// ClientMessage is a message sent by a WebSocket client.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// ValidChannel reports whether clients may subscribe to the channel.
func ValidChannel(ch string) bool {
	return ch == ChannelAgentEvents || ch == ChannelTaskEvents
}
