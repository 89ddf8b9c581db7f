package llm

import (
	"context"
)

// MockClient is a configurable mock for testing LLM-backed services.
// Set the function fields to control behavior in tests.
type MockClient struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, returns an empty result and nil error.
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// CompleteCalls counts invocations for verification.
	CompleteCalls int

	// Requests records every request passed to Complete.
	Requests []CompletionRequest
}

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{Model: "mock-model"}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResult{}, nil
}

// GetModel implements Client.
func (m *MockClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}
