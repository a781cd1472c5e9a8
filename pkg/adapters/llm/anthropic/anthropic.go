// Package anthropic writes slide narration with Anthropic Claude models.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/llm/prompt"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Config holds Anthropic client configuration.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	MaxWords  int

	// Options are appended to the SDK client options.
	Options []option.RequestOption
}

// Client implements ports.NarrationWriter.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxWords  int
	logger    *zap.Logger
}

// NewClient creates an Anthropic narration writer.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		maxWords:  cfg.MaxWords,
		logger:    logger,
	}, nil
}

// WriteNarration generates a narration script for one slide image.
func (c *Client) WriteNarration(ctx context.Context, image []byte, pos ports.SlidePosition) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(image)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", encoded),
				anthropic.NewTextBlock(prompt.Build(pos, c.maxWords)),
			),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: anthropic returned no text for slide %d", domain.ErrTransient, pos.Index)
	}

	c.logger.Debug("narration generated",
		zap.String("model", c.model),
		zap.Int("slide", pos.Index),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return text, nil
}

// Name returns the provider and model.
func (c *Client) Name() string {
	return "anthropic/" + c.model
}

// Ping checks the API key by listing one model.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		return fmt.Errorf("anthropic unavailable: %w", err)
	}
	return nil
}

// classify maps API failures onto domain error kinds.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: anthropic rate limited: %w", domain.ErrResourceExhausted, err)
		case code >= 500 || code == http.StatusRequestTimeout:
			return fmt.Errorf("%w: anthropic: %w", domain.ErrTransient, err)
		case code >= 400:
			return fmt.Errorf("%w: anthropic rejected request: %w", domain.ErrPermanent, err)
		}
	}
	return fmt.Errorf("%w: anthropic: %w", domain.ErrTransient, err)
}
