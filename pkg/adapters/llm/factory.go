package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/llm/anthropic"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/llm/gemini"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// Config holds narration writer configuration
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	MaxTokens         int
	MaxWords          int
	RequestsPerMinute float64
	Burst             int
	Logger            *zap.Logger
}

// NewWriter creates a rate-limited narration writer for the provider
func NewWriter(ctx context.Context, cfg *Config) (ports.NarrationWriter, error) {
	var (
		writer ports.NarrationWriter
		err    error
	)

	switch cfg.Provider {
	case "gemini":
		writer, err = gemini.NewClient(ctx, gemini.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			MaxWords:  cfg.MaxWords,
		}, cfg.Logger)
	case "anthropic":
		writer, err = anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			MaxWords:  cfg.MaxWords,
		}, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}

	return NewRateLimitedWriter(writer, cfg.RequestsPerMinute, cfg.Burst), nil
}
