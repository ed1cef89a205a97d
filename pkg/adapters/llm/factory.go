package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/adapters/llm/anthropic"
)

// Config holds LLM client configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	Logger    *zap.Logger
}

// NewClient creates a new completion client based on provider
func NewClient(cfg *Config) (Completer, error) {
	switch cfg.Provider {
	case "anthropic":
		client, err := anthropic.NewClient(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Logger)
		if err != nil {
			return nil, err
		}
		return CompleterFunc(func(ctx context.Context, req Request) (*Response, error) {
			res, err := client.Complete(ctx, anthropic.Request{
				System:      req.System,
				Prompt:      req.Prompt,
				MaxTokens:   req.MaxTokens,
				Temperature: req.Temperature,
			})
			if err != nil {
				return nil, err
			}
			return &Response{
				Text:         res.Text,
				Model:        res.Model,
				StopReason:   res.StopReason,
				InputTokens:  res.InputTokens,
				OutputTokens: res.OutputTokens,
			}, nil
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
