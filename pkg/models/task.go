package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task statuses.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusRetrying   TaskStatus = "retrying"
)

// Terminal reports whether the status is final. Terminal tasks are immutable.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusQueued, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled,
		TaskStatusRetrying:
		return true
	}
	return false
}

// Priority bounds. Higher numbers are more urgent.
const (
	MinPriority = -10
	MaxPriority = 10
)

// Well-known task metadata keys.
const (
	MetaTraceID         = "trace_id"
	MetaAgentType       = "agent_type"
	MetaRetryCount      = "retry_count"
	MetaProgress        = "progress"
	MetaProgressMessage = "progress_message"
	MetaLastError       = "last_error"
)

// Task is a unit of work flowing through the scheduler.
type Task struct {
	ID           uuid.UUID      `json:"id"`
	AgentID      *uuid.UUID     `json:"agent_id,omitempty"`
	ParentTaskID *uuid.UUID     `json:"parent_task_id,omitempty"`
	Description  string         `json:"description"`
	Status       TaskStatus     `json:"status"`
	Priority     int            `json:"priority"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// RetryCount reads the retry counter out of metadata. JSON round trips turn
// ints into float64, so all numeric shapes are tolerated.
func (t *Task) RetryCount() int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata[MetaRetryCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// TraceID returns the correlation ID carried in metadata, if any.
func (t *Task) TraceID() string {
	if t.Metadata == nil {
		return ""
	}
	if s, ok := t.Metadata[MetaTraceID].(string); ok {
		return s
	}
	return ""
}

// AgentTypeHint returns the agent type the task was created for, when the
// submitter pinned one via metadata.
func (t *Task) AgentTypeHint() (AgentType, bool) {
	if t.Metadata == nil {
		return "", false
	}
	s, ok := t.Metadata[MetaAgentType].(string)
	if !ok || !ValidAgentType(s) {
		return "", false
	}
	return AgentType(s), true
}

// TaskDependency records that TaskID must wait for DependsOnTaskID to
// complete before becoming ready.
type TaskDependency struct {
	ID              uuid.UUID `json:"id"`
	TaskID          uuid.UUID `json:"task_id"`
	DependsOnTaskID uuid.UUID `json:"depends_on_task_id"`
	CreatedAt       time.Time `json:"created_at"`
}
