// Package synth generates article content for pool pages. Generation prefers
// the configured chat backend and falls back to a deterministic template
// whenever the backend is missing or misbehaves.
package synth

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/backend"
	"github.com/mirrornet/pagepool/internal/pool"
)

const (
	defaultTemperature = 0.8
	minTokenBudget     = 800
	maxTokenBudget     = 3500
)

// ReferenceCollector distills reference URLs into prompt context.
type ReferenceCollector interface {
	Collect(ctx context.Context, urls []string) (string, error)
}

// Synthesizer turns a generation request into a finished article. A nil
// client means template-only operation.
type Synthesizer struct {
	client     backend.ChatClient
	references ReferenceCollector
	logger     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Synthesizer. client and references may be nil; a nil rng
// gets a fixed seed.
func New(client backend.ChatClient, references ReferenceCollector, rng *rand.Rand, logger *zap.Logger) *Synthesizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		client:     client,
		references: references,
		logger:     logger.Named("synth"),
		rng:        rng,
	}
}

// Generate produces an article for req. Backend failures are absorbed into
// the template fallback; the only returned error is context cancellation.
func (s *Synthesizer) Generate(ctx context.Context, req pool.SynthRequest) (pool.Article, error) {
	topic := s.formalize(req.Topic, req.Keywords, req.Host)
	minWords, maxWords := wordBounds(req.MinWords, req.MaxWords)

	if s.client == nil {
		return fallbackArticle(topic, req.Keywords, req.Links), nil
	}

	referenceContext := s.collectReferences(ctx, req.ReferenceURLs)
	prompt := buildPrompt(topic, req.Keywords, req.Host, req.Links, minWords, maxWords, referenceContext)

	s.logger.Info("generation started",
		zap.String("topic", topic),
		zap.Strings("keywords", req.Keywords),
		zap.String("host", req.Host))

	result, err := s.client.Complete(ctx, backend.ChatRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   tokenBudget(maxWords),
		Temperature: defaultTemperature,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pool.Article{}, ctxErr
		}
		if errors.Is(err, backend.ErrNoCredential) {
			s.logger.Info("no backend credential, using template", zap.String("topic", topic))
		} else {
			s.logger.Error("backend call failed, using template",
				zap.String("topic", topic),
				zap.Error(err))
		}
		return fallbackArticle(topic, req.Keywords, req.Links), nil
	}

	payload, err := parseArticle(result.Content)
	if err != nil {
		s.logger.Error("model output unusable, using template",
			zap.String("topic", topic),
			zap.Error(err))
		return fallbackArticle(topic, req.Keywords, req.Links), nil
	}

	payload.Title = s.sanitizeTitle(payload.Title, topic)
	title, excerpt, body := renderHTML(payload, req.Links)

	s.logger.Info("generation finished",
		zap.String("topic", topic),
		zap.String("model", result.Model),
		zap.Int("body_chars", len(body)))

	return pool.Article{
		Title:     title,
		Excerpt:   excerpt,
		Body:      body,
		Topic:     topic,
		Generator: pool.GeneratorAI,
		Model:     s.client.Model(),
	}, nil
}

func (s *Synthesizer) collectReferences(ctx context.Context, urls []string) string {
	if s.references == nil || len(urls) == 0 {
		return ""
	}
	text, err := s.references.Collect(ctx, urls)
	if err != nil {
		s.logger.Warn("reference collection failed", zap.Error(err))
		return ""
	}
	return text
}

func (s *Synthesizer) formalize(raw string, keywords []string, host string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return formalizeTopic(raw, keywords, host, s.rng)
}

func (s *Synthesizer) sanitizeTitle(title, topic string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return safeTitle(title, topic, s.rng)
}

// wordBounds applies the floor and margin rules so the range is always
// sensible regardless of what the caller passes.
func wordBounds(minWords, maxWords int) (int, int) {
	if minWords <= 0 {
		minWords = pool.DefaultMinWords
	}
	if minWords < pool.MinWordsFloor {
		minWords = pool.MinWordsFloor
	}
	if maxWords <= 0 {
		maxWords = minWords + 2*pool.WordMargin
	}
	if maxWords < minWords+pool.WordMargin {
		maxWords = minWords + pool.WordMargin
	}
	return minWords, maxWords
}

// tokenBudget clamps the completion budget to the backend's useful range.
func tokenBudget(maxWords int) int {
	budget := maxWords * 2
	if budget < minTokenBudget {
		budget = minTokenBudget
	}
	if budget > maxTokenBudget {
		budget = maxTokenBudget
	}
	return budget
}
