package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/metrics"
)

const (
	defaultTimeout    = 45 * time.Second
	defaultMaxRetries = 2
)

// Config holds settings for the chat completion client. The DeepSeek API is
// OpenAI-compatible, so the official SDK talks to it through BaseURL.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client // Optional (tests)
}

// Client implements ChatClient using the OpenAI SDK.
type Client struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a chat completion client. It returns ErrNoCredential when
// no API key is configured so callers can choose template fallback up front.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoCredential
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("backend model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger.Named("backend"),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Complete issues a single chat completion and returns the raw content.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (ChatResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.ObserveBackendCall("error", time.Since(start))
		return ChatResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveBackendCall("error", time.Since(start))
		return ChatResult{}, fmt.Errorf("chat completion: no choices returned")
	}
	metrics.ObserveBackendCall("success", time.Since(start))

	content := resp.Choices[0].Message.Content
	c.logger.Debug("chat completion finished",
		zap.String("model", c.model),
		zap.Int("content_chars", len(content)),
		zap.Duration("elapsed", time.Since(start)))

	return ChatResult{Content: content, Model: resp.Model}, nil
}

var _ ChatClient = (*Client)(nil)
