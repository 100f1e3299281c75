package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookStatus is the lifecycle state of a webhook subscription.
type WebhookStatus string

// Webhook statuses. A webhook moves to failed automatically after too many
// consecutive delivery failures and must be re-activated by an operator.
const (
	WebhookStatusActive   WebhookStatus = "active"
	WebhookStatusPaused   WebhookStatus = "paused"
	WebhookStatusDisabled WebhookStatus = "disabled"
	WebhookStatusFailed   WebhookStatus = "failed"
)

// ValidWebhookStatus reports whether s is a known webhook status.
func ValidWebhookStatus(s string) bool {
	switch WebhookStatus(s) {
	case WebhookStatusActive, WebhookStatusPaused, WebhookStatusDisabled,
		WebhookStatusFailed:
		return true
	}
	return false
}

// Webhook is an outbound HTTP subscription to bus events.
type Webhook struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Secret            string            `json:"secret,omitempty"`
	Events            []EventType       `json:"events"`
	Status            WebhookStatus     `json:"status"`
	Headers           map[string]string `json:"headers,omitempty"`
	RetryCount        int               `json:"retry_count"`
	RetryDelaySeconds int               `json:"retry_delay_seconds"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	FailureCount      int               `json:"failure_count"`
	SuccessCount      int               `json:"success_count"`
	LastDeliveryAt    *time.Time        `json:"last_delivery_at,omitempty"`
	LastSuccessAt     *time.Time        `json:"last_success_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Subscribed reports whether the webhook wants events of type t. An empty
// event list subscribes to everything.
func (w *Webhook) Subscribed(t EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of one webhook delivery attempt chain.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
)

// Delivery tracks the attempts to deliver one event to one webhook.
type Delivery struct {
	ID             uuid.UUID      `json:"id"`
	WebhookID      uuid.UUID      `json:"webhook_id"`
	EventType      EventType      `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	MaxAttempts    int            `json:"max_attempts"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
