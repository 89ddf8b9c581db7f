package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/config"
)

// NewFromConfig builds the configured model client, wrapped with rate
// limiting and a circuit breaker.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	var (
		client Client
		err    error
	)

	switch cfg.ModelType {
	case config.ModelTypeQwen:
		client, err = NewQwenClient(QwenConfig{
			BaseURL: cfg.QwenBaseURL,
			Model:   cfg.QwenModelName,
			APIKey:  cfg.QwenAPIKey,
		}, logger)
	case config.ModelTypeAnthropic:
		client, err = NewAnthropicClient(AnthropicConfig{
			Model:  cfg.AnthropicModelName,
			APIKey: cfg.AnthropicAPIKey,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported model type: %q", cfg.ModelType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.ModelType, err)
	}

	return Guard(client, cfg.RequestsPerSecond, nil), nil
}
