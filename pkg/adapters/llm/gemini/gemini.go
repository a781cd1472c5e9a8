// Package gemini writes slide narration with Google Gemini vision models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/llm/prompt"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// PreferredModels lists vision models in order of preference.
var PreferredModels = []string{
	"models/gemini-2.5-flash",
	"models/gemini-2.5-flash-lite",
	"models/gemini-2.5-pro",
	"models/gemini-2.0-flash",
	"models/gemini-2.0-flash-lite",
	"models/gemini-1.5-flash",
	"models/gemini-1.5-flash-8b",
	"models/gemini-1.5-flash-latest",
	"models/gemini-1.5-pro",
}

// fallbackKeywords pick any available model when none of the preferred
// names are offered.
var fallbackKeywords = []string{"2.5-flash", "2.0-flash", "1.5-flash", "flash", "pro"}

const generateContentMethod = "generateContent"

// Config holds Gemini client configuration.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	MaxWords  int
}

// Client implements ports.NarrationWriter.
type Client struct {
	client    *genai.Client
	model     string
	maxTokens int
	maxWords  int
	logger    *zap.Logger
}

// NewClient connects to Gemini. When cfg.Model is empty the best available
// model is selected from PreferredModels.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	c := &Client{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxWords:  cfg.MaxWords,
		logger:    logger,
	}

	if c.model == "" {
		available, err := c.listModels(ctx)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		c.model, err = SelectModel(available)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	logger.Info("gemini narration model selected", zap.String("model", c.model))
	return c, nil
}

// WriteNarration generates a narration script for one slide image.
func (c *Client) WriteNarration(ctx context.Context, image []byte, pos ports.SlidePosition) (string, error) {
	model := c.client.GenerativeModel(c.model)
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.maxTokens))
	}

	resp, err := model.GenerateContent(ctx,
		genai.ImageData("png", image),
		genai.Text(prompt.Build(pos, c.maxWords)),
	)
	if err != nil {
		return "", classify(err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text for slide %d", domain.ErrTransient, pos.Index)
	}

	c.logger.Debug("narration generated",
		zap.String("model", c.model),
		zap.Int("slide", pos.Index),
		zap.Int("chars", len(text)))
	return text, nil
}

// Name returns the provider and model.
func (c *Client) Name() string {
	return "gemini/" + strings.TrimPrefix(c.model, "models/")
}

// Ping checks the API key by fetching the model list.
func (c *Client) Ping(ctx context.Context) error {
	it := c.client.ListModels(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("gemini unavailable: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	var names []string
	it := c.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gemini models: %w", err)
		}
		for _, method := range info.SupportedGenerationMethods {
			if method == generateContentMethod {
				names = append(names, info.Name)
				break
			}
		}
	}
	return names, nil
}

// SelectModel picks the most preferred name from available.
func SelectModel(available []string) (string, error) {
	offered := make(map[string]bool, len(available))
	for _, name := range available {
		offered[name] = true
	}
	for _, name := range PreferredModels {
		if offered[name] {
			return name, nil
		}
	}
	for _, keyword := range fallbackKeywords {
		for _, name := range available {
			if strings.Contains(strings.ToLower(name), keyword) {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no gemini model supports content generation (%d offered)", domain.ErrPermanent, len(available))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// classify maps Gemini failures onto domain error kinds.
func classify(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("%w: gemini blocked the request: %w", domain.ErrPermanent, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: gemini: %w", markerForHTTP(apiErr.Code), err)
	}

	switch status.Code(err) {
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: gemini quota: %w", domain.ErrResourceExhausted, err)
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.FailedPrecondition:
		return fmt.Errorf("%w: gemini rejected request: %w", domain.ErrPermanent, err)
	}
	return fmt.Errorf("%w: gemini: %w", domain.ErrTransient, err)
}

func markerForHTTP(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.ErrResourceExhausted
	case code >= 500 || code == http.StatusRequestTimeout:
		return domain.ErrTransient
	case code >= 400:
		return domain.ErrPermanent
	default:
		return domain.ErrTransient
	}
}
