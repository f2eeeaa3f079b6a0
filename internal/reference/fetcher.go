// Package reference fetches supporting pages and distills them into plain
// text used to ground article generation.
package reference

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go/v4"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout        = 8 * time.Second
	defaultMaxSources     = 5
	defaultPerSourceChars = 1200
	fetchAttempts         = 2
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxSources     int
	PerSourceChars int
}

// Fetcher pulls reference URLs and extracts readable text from them.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = defaultMaxSources
	}
	if cfg.PerSourceChars <= 0 {
		cfg.PerSourceChars = defaultPerSourceChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	return &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("reference"),
		baseCollector: c,
	}
}

// Collect fetches up to MaxSources URLs and returns their distilled text
// joined into a single context block. Failed sources are skipped with a
// warning; Collect only fails when the context is canceled. The combined
// output is capped at three times the per-source limit.
func (f *Fetcher) Collect(ctx context.Context, urls []string) (string, error) {
	if len(urls) > f.cfg.MaxSources {
		urls = urls[:f.cfg.MaxSources]
	}

	var parts []string
	total := 0
	limit := f.cfg.PerSourceChars * 3
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("reference collection canceled: %w", err)
		}
		text, err := f.fetchOne(ctx, url)
		if err != nil {
			f.logger.Warn("reference source skipped",
				zap.String("url", url),
				zap.Error(err))
			continue
		}
		if text == "" {
			continue
		}
		if total+len(text) > limit {
			text = text[:limit-total]
		}
		parts = append(parts, text)
		total += len(text)
		if total >= limit {
			break
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) (string, error) {
	body, err := retry.DoWithData(
		func() ([]byte, error) { return f.visit(ctx, url) },
		retry.Context(ctx),
		retry.Attempts(fetchAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}
	text, err := extractText(body)
	if err != nil {
		return "", err
	}
	if len(text) > f.cfg.PerSourceChars {
		text = text[:f.cfg.PerSourceChars]
	}
	return text, nil
}

func (f *Fetcher) visit(ctx context.Context, url string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("response failed: %w", fetchErr)
		}
		return body, nil
	}
}

// extractText strips markup and boilerplate elements, keeping readable prose.
func extractText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script,style,nav,header,footer,noscript").Remove()

	var sb strings.Builder
	doc.Find("h1,h2,h3,p,li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	})

	out := sb.String()
	if out == "" {
		out = strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.TrimSpace(out), nil
}
