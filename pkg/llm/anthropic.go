package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// AnthropicConfig holds configuration for creating an Anthropic client.
type AnthropicConfig struct {
	Model  string
	APIKey string
}

// NewAnthropicClient creates an Anthropic chat completion client.
func NewAnthropicClient(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger.Named("llm-anthropic"),
	}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	messages := make([]anthropic.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantTextMessage(m.Content))
		} else {
			messages = append(messages, anthropic.NewUserTextMessage(m.Content))
		}
	}
	messages = append(messages, anthropic.NewUserTextMessage(req.User))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	apiReq := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    req.System,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		apiReq.Temperature = &temp
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(req.User)),
		zap.Float64("temperature", req.Temperature))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, apiReq)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	content := ""
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			content = *block.Text
			break
		}
	}
	if content == "" {
		return nil, NewError(ErrorTypeUnknown, "no text content in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &CompletionResult{
		Content:          content,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// GetModel implements Client.
func (c *AnthropicClient) GetModel() string {
	return c.model
}
