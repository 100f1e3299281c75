package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/pkg/models"
)

// SpawnAgentRequest is the body of POST /api/v1/agents/spawn.
type SpawnAgentRequest struct {
	AgentType    string                    `json:"agent_type"`
	Name         string                    `json:"name,omitempty"`
	Capabilities *models.AgentCapabilities `json:"capabilities,omitempty"`
	Config       *models.AgentConfig       `json:"config,omitempty"`
	ParentID     *uuid.UUID                `json:"parent_id,omitempty"`
}

// UpdateAgentStatusRequest is the body of PATCH /api/v1/agents/:id/status.
type UpdateAgentStatusRequest struct {
	Status string `json:"status"`
}

// HeartbeatRequest is the body of POST /api/v1/agents/:id/heartbeat.
type HeartbeatRequest struct {
	Metrics map[string]any `json:"metrics,omitempty"`
}

// TerminateAgentRequest is the body of POST /api/v1/agents/:id/terminate.
type TerminateAgentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SubmitTaskRequest is the body of POST /api/v1/tasks/submit.
type SubmitTaskRequest struct {
	Description  string         `json:"description"`
	Priority     int            `json:"priority"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	AgentType    string         `json:"agent_type,omitempty"`
	AgentID      *uuid.UUID     `json:"agent_id,omitempty"`
	ParentTaskID *uuid.UUID     `json:"parent_task_id,omitempty"`
}

// UpdateTaskRequest is the body of PATCH /api/v1/tasks/:id. Exactly one of
// the status transitions or a progress report is applied per call.
type UpdateTaskRequest struct {
	Status   string         `json:"status,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Retry    *bool          `json:"retry,omitempty"`
	Progress *float64       `json:"progress,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// AddDependencyRequest is the body of POST /api/v1/tasks/:id/dependencies.
type AddDependencyRequest struct {
	DependsOnTaskID uuid.UUID `json:"depends_on_task_id"`
}

// RegisterWebhookRequest is the body of POST /api/v1/webhooks.
type RegisterWebhookRequest struct {
	Name              string             `json:"name"`
	URL               string             `json:"url"`
	Secret            string             `json:"secret,omitempty"`
	Events            []models.EventType `json:"events,omitempty"`
	Headers           map[string]string  `json:"headers,omitempty"`
	RetryCount        int                `json:"retry_count,omitempty"`
	RetryDelaySeconds int                `json:"retry_delay_seconds,omitempty"`
	TimeoutSeconds    int                `json:"timeout_seconds,omitempty"`
}

// UpdateWebhookRequest is the body of PATCH /api/v1/webhooks/:id. Pointer
// fields distinguish "absent" from "set to zero value".
type UpdateWebhookRequest struct {
	Name    *string             `json:"name,omitempty"`
	URL     *string             `json:"url,omitempty"`
	Secret  *string             `json:"secret,omitempty"`
	Events  *[]models.EventType `json:"events,omitempty"`
	Status  *string             `json:"status,omitempty"`
	Headers *map[string]string  `json:"headers,omitempty"`
}
