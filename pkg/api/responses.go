package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentListResponse is returned by GET /api/v1/agents.
type AgentListResponse struct {
	Agents   []*models.Agent `json:"agents"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// TaskListResponse is returned by GET /api/v1/tasks.
type TaskListResponse struct {
	Tasks    []*models.Task `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// TerminateResponse is returned by POST /api/v1/agents/:id/terminate.
type TerminateResponse struct {
	AgentID uuid.UUID `json:"agent_id"`
	Status  string    `json:"status"`
}

// CancelResponse is returned by POST /api/v1/tasks/:id/cancel.
type CancelResponse struct {
	TaskID  uuid.UUID `json:"task_id"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
}

// HealthCheck is one component's entry in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// WebhookListResponse is returned by GET /api/v1/webhooks.
type WebhookListResponse struct {
	Webhooks []*models.Webhook `json:"webhooks"`
	Total    int               `json:"total"`
}

// DeliveryListResponse is returned by GET /api/v1/webhooks/:id/deliveries.
type DeliveryListResponse struct {
	Deliveries []*models.Delivery `json:"deliveries"`
	Total      int                `json:"total"`
}

// AuditListResponse is returned by GET /api/v1/audit/events.
type AuditListResponse struct {
	Events []*models.AuditEvent `json:"events"`
	Total  int                  `json:"total"`
}
