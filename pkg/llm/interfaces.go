// Package llm provides the model clients behind SQL generation and
// analysis: an OpenAI-compatible client for Qwen (DashScope compatible
// mode) and an Anthropic client, selected by configuration.
package llm

import (
	"context"
)

// Message is one prior conversation message included in a completion
// request. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries one chat completion call.
type CompletionRequest struct {
	System      string
	History     []Message
	User        string
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the model's reply with usage stats.
type CompletionResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client defines the interface for chat completion operations.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Complete generates a chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Compile-time interface checks.
var (
	_ Client = (*QwenClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
	_ Client = (*guardedClient)(nil)
)
