// Package llm provides the HTTP client for the external language model
// endpoint used by worker runners.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/models"
)

// Client invokes a chat-completions style endpoint.
type Client interface {
	Invoke(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewHTTPClient creates the client. An empty base URL yields a client whose
// calls fail as recoverable upstream errors, letting the worker degrade
// gracefully.
func NewHTTPClient(cfg config.LLMConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Invoke sends the prompt and returns the first choice's text.
func (c *HTTPClient) Invoke(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("llm endpoint not configured: %w", models.ErrUpstreamFailure)
	}

	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to encode llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", models.ErrUpstreamFailure)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read llm response: %w", models.ErrUpstreamFailure)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm returned %d: %w", resp.StatusCode, models.ErrUpstreamFailure)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode llm response: %w", models.ErrUpstreamFailure)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices: %w", models.ErrUpstreamFailure)
	}
	return decoded.Choices[0].Message.Content, nil
}
