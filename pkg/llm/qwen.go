package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultQwenBaseURL is DashScope's OpenAI-compatible endpoint.
const DefaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// QwenClient talks to Qwen models through DashScope's OpenAI-compatible
// API. Any OpenAI-compatible endpoint works, so local vLLM deployments can
// be pointed at via the base URL.
type QwenClient struct {
	client  *openai.Client
	baseURL string
	model   string
	logger  *zap.Logger
}

// QwenConfig holds configuration for creating a Qwen client.
type QwenConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// NewQwenClient creates a Qwen chat completion client.
func NewQwenClient(cfg QwenConfig, logger *zap.Logger) (*QwenClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultQwenBaseURL
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &QwenClient{
		client:  openai.NewClientWithConfig(clientConfig),
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		logger:  logger.Named("llm-qwen"),
	}, nil
}

// Complete implements Client.
func (c *QwenClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.User,
	})

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(req.User)),
		zap.Float64("temperature", req.Temperature))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeUnknown, "no choices in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &CompletionResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// GetModel implements Client.
func (c *QwenClient) GetModel() string {
	return c.model
}
