// Package worker hosts the worker runtime: it consumes task assignments,
// executes them through registered runners under a concurrency semaphore
// and per-task timeout, and reports outcomes back through the bus.
package worker

import (
	"context"
	"sync"

	"github.com/agentmesh/agentmesh/pkg/llm"
	"github.com/agentmesh/agentmesh/pkg/models"
)

// Runner executes one kind of task.
type Runner interface {
	// SystemPrompt returns the instruction prefix for LLM-backed runners.
	SystemPrompt() string
	// Execute performs the task and returns its result payload.
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// RunnerFactory builds a runner bound to an LLM client.
type RunnerFactory func(client llm.Client) Runner

// Registry maps agent types to runner factories. Unknown types fall back to
// the research runner.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.AgentType]RunnerFactory
}

// NewRegistry creates a registry preloaded with the builtin runners.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[models.AgentType]RunnerFactory)}
	r.Register(models.AgentTypeResearch, func(c llm.Client) Runner { return &researchRunner{llm: c} })
	r.Register(models.AgentTypeAnalysis, func(c llm.Client) Runner { return &analysisRunner{llm: c} })
	return r
}

// Register adds or replaces the factory for an agent type.
func (r *Registry) Register(t models.AgentType, f RunnerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Build returns a runner for the agent type, falling back to research.
func (r *Registry) Build(t models.AgentType, client llm.Client) Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[t]; ok {
		return f(client)
	}
	return r.factories[models.AgentTypeResearch](client)
}

// researchRunner answers open-ended research tasks with the LLM.
type researchRunner struct {
	llm llm.Client
}

func (r *researchRunner) SystemPrompt() string {
	return "You are a research agent. Investigate the task thoroughly and " +
		"answer with well-sourced findings."
}

func (r *researchRunner) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	prompt, err := promptFrom(input)
	if err != nil {
		return nil, err
	}
	text, err := r.llm.Invoke(ctx, r.SystemPrompt(), prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"findings": text}, nil
}

// analysisRunner reduces structured input to conclusions with the LLM.
type analysisRunner struct {
	llm llm.Client
}

func (r *analysisRunner) SystemPrompt() string {
	return "You are an analysis agent. Examine the provided data and state " +
		"your conclusions with supporting reasoning."
}

func (r *analysisRunner) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	prompt, err := promptFrom(input)
	if err != nil {
		return nil, err
	}
	text, err := r.llm.Invoke(ctx, r.SystemPrompt(), prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"analysis": text}, nil
}

func promptFrom(input map[string]any) (string, error) {
	if input == nil {
		return "", models.NewValidationError("input", "missing task input")
	}
	if d, ok := input["description"].(string); ok && d != "" {
		return d, nil
	}
	if p, ok := input["prompt"].(string); ok && p != "" {
		return p, nil
	}
	return "", models.NewValidationError("input", "no description or prompt in task input")
}

// KnowledgeStore records task outcomes for later recall. The core ships a
// no-op implementation; a vector-backed store can be plugged in.
type KnowledgeStore interface {
	Record(ctx context.Context, agentID string, content string, metadata map[string]any) error
}

// NopKnowledgeStore discards everything.
type NopKnowledgeStore struct{}

// Record is a no-op.
func (NopKnowledgeStore) Record(context.Context, string, string, map[string]any) error {
	return nil
}
