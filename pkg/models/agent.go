// Package models defines the shared domain types for the agent
// orchestration platform: agents, tasks, pools, events, and webhooks.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentType classifies what kind of work an agent performs.
type AgentType string

// Agent types.
const (
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypeWorker       AgentType = "worker"
	AgentTypeSpecialist   AgentType = "specialist"
	AgentTypeResearch     AgentType = "research"
	AgentTypeAnalysis     AgentType = "analysis"
	AgentTypeCoordinator  AgentType = "coordinator"
)

// ValidAgentType reports whether s is a known agent type.
func ValidAgentType(s string) bool {
	switch AgentType(s) {
	case AgentTypeOrchestrator, AgentTypeWorker, AgentTypeSpecialist,
		AgentTypeResearch, AgentTypeAnalysis, AgentTypeCoordinator:
		return true
	}
	return false
}

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

// Agent statuses. Transitions are enforced by the agent manager:
// starting → idle; idle ↔ busy; any → stopping → offline; any → failed.
const (
	AgentStatusStarting AgentStatus = "starting"
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusBusy     AgentStatus = "busy"
	AgentStatusStopping AgentStatus = "stopping"
	AgentStatusOffline  AgentStatus = "offline"
	AgentStatusFailed   AgentStatus = "failed"
)

// ValidAgentStatus reports whether s is a known agent status.
func ValidAgentStatus(s string) bool {
	switch AgentStatus(s) {
	case AgentStatusStarting, AgentStatusIdle, AgentStatusBusy,
		AgentStatusStopping, AgentStatusOffline, AgentStatusFailed:
		return true
	}
	return false
}

// AgentCapabilities describes what an agent can do and how much of it.
type AgentCapabilities struct {
	Skills             []string `json:"skills"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
	SupportedTaskTypes []string `json:"supported_task_types,omitempty"`
	Tools              []string `json:"tools,omitempty"`
}

// DefaultCapabilities returns the capabilities applied when a spawn request
// leaves them unspecified.
func DefaultCapabilities() AgentCapabilities {
	return AgentCapabilities{
		Skills:             []string{},
		MaxConcurrentTasks: 5,
	}
}

// HasSkills reports whether the agent carries every skill in required.
func (c AgentCapabilities) HasSkills(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range c.Skills {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AgentConfig holds per-agent LLM and execution settings.
type AgentConfig struct {
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	RetryAttempts  int     `json:"retry_attempts"`
	MemoryEnabled  bool    `json:"memory_enabled"`
}

// DefaultAgentConfig returns the configuration applied when a spawn request
// leaves it unspecified.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Model:          "claude-sonnet-4-20250514",
		Temperature:    0.7,
		MaxTokens:      4096,
		TimeoutSeconds: 300,
		RetryAttempts:  3,
		MemoryEnabled:  true,
	}
}

// Agent is a stateful executor registered with the control plane.
type Agent struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Type          AgentType         `json:"type"`
	Status        AgentStatus       `json:"status"`
	Capabilities  AgentCapabilities `json:"capabilities"`
	Config        AgentConfig       `json:"config"`
	ParentID      *uuid.UUID        `json:"parent_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	LastHeartbeat *time.Time        `json:"last_heartbeat,omitempty"`
}

// Active reports whether the agent counts against the active-agent limit.
func (a *Agent) Active() bool {
	switch a.Status {
	case AgentStatusStarting, AgentStatusIdle, AgentStatusBusy:
		return true
	}
	return false
}

// AgentPool groups agents of one type with min/max bounds.
type AgentPool struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AgentType   AgentType `json:"agent_type"`
	MinAgents   int       `json:"min_agents"`
	MaxAgents   int       `json:"max_agents"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
