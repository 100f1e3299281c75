package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/llm"
	"github.com/agentmesh/agentmesh/pkg/models"
)

// fakeLLM echoes the prompt back, or fails when err is set.
type fakeLLM struct {
	lastSystem string
	lastPrompt string
	err        error
}

func (f *fakeLLM) Invoke(_ context.Context, systemPrompt, prompt string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return "answer: " + prompt, nil
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	client := &fakeLLM{}

	_, ok := reg.Build(models.AgentTypeResearch, client).(*researchRunner)
	assert.True(t, ok)
	_, ok = reg.Build(models.AgentTypeAnalysis, client).(*analysisRunner)
	assert.True(t, ok)
	_, ok = reg.Build(models.AgentTypeCoordinator, client).(*researchRunner)
	assert.True(t, ok, "unknown types fall back to research")
}

func TestRegistryRegisterOverride(t *testing.T) {
	reg := NewRegistry()
	custom := &analysisRunner{}
	reg.Register(models.AgentTypeResearch, func(llm.Client) Runner { return custom })

	assert.Same(t, custom, reg.Build(models.AgentTypeResearch, &fakeLLM{}))
}

func TestResearchRunnerExecute(t *testing.T) {
	client := &fakeLLM{}
	runner := &researchRunner{llm: client}

	out, err := runner.Execute(context.Background(), map[string]any{"description": "find x"})
	require.NoError(t, err)
	assert.Equal(t, "answer: find x", out["findings"])
	assert.Equal(t, runner.SystemPrompt(), client.lastSystem)
}

func TestAnalysisRunnerExecute(t *testing.T) {
	client := &fakeLLM{}
	runner := &analysisRunner{llm: client}

	out, err := runner.Execute(context.Background(), map[string]any{"prompt": "compare a and b"})
	require.NoError(t, err)
	assert.Equal(t, "answer: compare a and b", out["analysis"])
}

func TestRunnerExecute_PropagatesLLMError(t *testing.T) {
	boom := errors.New("model unavailable")
	runner := &researchRunner{llm: &fakeLLM{err: boom}}

	_, err := runner.Execute(context.Background(), map[string]any{"description": "x"})
	assert.ErrorIs(t, err, boom)
}

func TestPromptFrom(t *testing.T) {
	p, err := promptFrom(map[string]any{"description": "do it"})
	require.NoError(t, err)
	assert.Equal(t, "do it", p)

	p, err = promptFrom(map[string]any{"prompt": "ask it"})
	require.NoError(t, err)
	assert.Equal(t, "ask it", p)

	// description wins over prompt
	p, err = promptFrom(map[string]any{"description": "a", "prompt": "b"})
	require.NoError(t, err)
	assert.Equal(t, "a", p)

	_, err = promptFrom(nil)
	assert.True(t, models.IsValidationError(err))
	_, err = promptFrom(map[string]any{"description": ""})
	assert.True(t, models.IsValidationError(err))
}

func TestRecoverable(t *testing.T) {
	assert.False(t, Recoverable(models.NewValidationError("input", "bad")))
	assert.True(t, Recoverable(models.ErrUpstreamFailure))
	assert.True(t, Recoverable(models.ErrDependencyUnavailable))
	assert.True(t, Recoverable(context.DeadlineExceeded))
	assert.True(t, Recoverable(errors.New("unknown")))
}
