// Package backend abstracts the chat completion service used for article
// generation.
package backend

import (
	"context"
	"errors"
)

// ErrNoCredential reports that no API key is configured. Callers treat it as
// a signal to fall back to template generation, not as a failure.
var ErrNoCredential = errors.New("backend: no api key configured")

// ChatRequest is a single completion exchange.
type ChatRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ChatResult carries the raw model output.
type ChatResult struct {
	Content string
	Model   string
}

// ChatClient issues chat completions against a model backend.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResult, error)
	Model() string
}
