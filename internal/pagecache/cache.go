// Package pagecache owns page lifecycle: lookup, lazy generation, host and
// link refresh, and view accounting. Generation for a slug is single-flight;
// concurrent callers wait for the first writer and then read its result.
package pagecache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/linkweaver"
	"github.com/mirrornet/pagepool/internal/pool"
	"github.com/mirrornet/pagepool/internal/store"
)

const fallbackHost = "pool.local"

// Generator produces an article for a generation request.
type Generator interface {
	Generate(ctx context.Context, req pool.SynthRequest) (pool.Article, error)
}

// EnsureOptions carries optional overrides for Ensure. Zero values leave the
// stored page untouched.
type EnsureOptions struct {
	Topic         string
	Keywords      []string
	MinWords      int
	MaxWords      int
	ReferenceURLs []string
	Force         bool
}

// Cache coordinates the store, link weaver, and generator.
type Cache struct {
	store   store.Provider
	weaver  *linkweaver.Weaver
	gen     Generator
	clock   pool.Clock
	desired int
	logger  *zap.Logger

	slugLocks *keyedLock

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Cache. A non-positive desired falls back to the weaver
// default; a nil rng gets a fixed seed.
func New(provider store.Provider, weaver *linkweaver.Weaver, gen Generator, clock pool.Clock, desired int, rng *rand.Rand, logger *zap.Logger) *Cache {
	if desired <= 0 {
		desired = linkweaver.DefaultDesired
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:     provider,
		weaver:    weaver,
		gen:       gen,
		clock:     clock,
		desired:   desired,
		logger:    logger.Named("pagecache"),
		slugLocks: newKeyedLock(),
		rng:       rng,
	}
}

// Ensure returns the page for slug, generating it when it has no body yet or
// when opts.Force is set. A page that already has a body only gets its host
// and link set refreshed, without touching the generated content.
func (c *Cache) Ensure(ctx context.Context, slug, host string, opts EnsureOptions) (pool.Page, error) {
	entry := c.slugLocks.acquire(slug)
	defer c.slugLocks.release(slug, entry)

	snap, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		return pool.Page{}, fmt.Errorf("load snapshot: %w", err)
	}

	links := c.weaver.Build(&snap, slug, c.desired, host)

	page, known := snap.Pages[slug]
	if !known {
		page = pool.Page{Slug: slug}
	}
	if opts.Topic != "" {
		page.Topic = opts.Topic
	}
	if opts.Keywords != nil {
		page.Keywords = splitKeywords(opts.Keywords)
	}

	settings := snap.Settings
	keywordSeed := page.Keywords
	if len(keywordSeed) == 0 {
		keywordSeed = settings.DefaultKeywords
	}
	topicSeed := page.Topic
	if topicSeed == "" {
		topicSeed = strings.ReplaceAll(slug, "-", " ")
	}
	hostRef := host
	if hostRef == "" {
		hostRef = page.Host
	}
	if hostRef == "" {
		hostRef = fallbackHost
	}
	minWords := opts.MinWords
	if minWords <= 0 {
		minWords = settings.MinWords
	}
	maxWords := opts.MaxWords
	if maxWords <= 0 {
		maxWords = settings.MaxWords
	}

	if !opts.Force && page.Generated() {
		return c.refresh(ctx, page, host, links)
	}

	article, err := c.gen.Generate(ctx, pool.SynthRequest{
		Topic:         topicSeed,
		Keywords:      keywordSeed,
		Host:          hostRef,
		Links:         links,
		MinWords:      minWords,
		MaxWords:      maxWords,
		ReferenceURLs: opts.ReferenceURLs,
	})
	if err != nil {
		return pool.Page{}, fmt.Errorf("generate article for %q: %w", slug, err)
	}

	now := c.clock.Now()
	updated, err := c.store.UpdateSnapshot(ctx, func(s *pool.Snapshot) {
		current, ok := s.Pages[slug]
		if !ok {
			current = pool.Page{Slug: slug, CreatedAt: now}
		}
		if current.CreatedAt.IsZero() {
			current.CreatedAt = now
		}
		current.Title = article.Title
		current.Excerpt = article.Excerpt
		current.Body = article.Body
		current.Topic = article.Topic
		current.Generator = article.Generator
		current.Model = article.Model
		current.Links = links
		current.Host = hostRef
		current.Keywords = keywordSeed
		current.UpdatedAt = now
		s.Pages[slug] = current
	})
	if err != nil {
		return pool.Page{}, fmt.Errorf("persist page %q: %w", slug, err)
	}

	c.logger.Info("page generated",
		zap.String("slug", slug),
		zap.String("host", hostRef),
		zap.String("generator", article.Generator))

	return updated.Pages[slug], nil
}

// refresh keeps a generated page current without regenerating its body.
func (c *Cache) refresh(ctx context.Context, page pool.Page, host string, links []pool.Link) (pool.Page, error) {
	hostChanged := host != "" && host != page.Host
	linksChanged := !linksEqual(page.Links, links)
	if !hostChanged && !linksChanged {
		return page, nil
	}

	now := c.clock.Now()
	updated, err := c.store.UpdateSnapshot(ctx, func(s *pool.Snapshot) {
		current, ok := s.Pages[page.Slug]
		if !ok {
			return
		}
		if hostChanged {
			current.Host = host
			current.UpdatedAt = now
		}
		if linksChanged {
			current.Links = links
		}
		s.Pages[page.Slug] = current
	})
	if err != nil {
		return pool.Page{}, fmt.Errorf("refresh page %q: %w", page.Slug, err)
	}
	if refreshed, ok := updated.Pages[page.Slug]; ok {
		return refreshed, nil
	}
	return page, nil
}

// Lookup returns the stored page without triggering generation.
func (c *Cache) Lookup(ctx context.Context, slug string) (pool.Page, bool, error) {
	snap, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		return pool.Page{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	page, ok := snap.Pages[slug]
	return page, ok, nil
}

// ResolveRandom picks a page for wildcard traffic. A path hint that matches
// a known slug wins; otherwise a random page on the host (or anywhere)
// serves, and an empty pool mints a fresh entry slug.
func (c *Cache) ResolveRandom(ctx context.Context, host, pathHint string) (pool.Page, error) {
	snap, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		return pool.Page{}, fmt.Errorf("load snapshot: %w", err)
	}

	var hinted string
	if pathHint != "" {
		hinted = c.slugify(pathHint)
	}

	var slug string
	switch {
	case hinted != "" && hasPage(snap, hinted):
		slug = hinted
	default:
		candidates := pagesForHost(snap, host)
		if len(candidates) > 0 {
			slug = candidates[c.randIntn(len(candidates))]
		} else if hinted != "" {
			slug = hinted
		} else {
			slug = c.slugify(fmt.Sprintf("entry-%04d", 1000+c.randIntn(9000)))
		}
	}

	return c.Ensure(ctx, slug, host, EnsureOptions{})
}

// RegisterHost records a serving hostname the first time it is seen, so the
// pool discovers its own domain list from traffic.
func (c *Cache) RegisterHost(ctx context.Context, host string) error {
	if host == "" {
		return nil
	}
	_, err := c.store.UpdateSnapshot(ctx, func(s *pool.Snapshot) {
		for _, d := range s.Domains {
			if d.Host == host {
				return
			}
		}
		s.Domains = append(s.Domains, pool.Domain{Host: host, Label: host})
	})
	if err != nil {
		return fmt.Errorf("register host %q: %w", host, err)
	}
	return nil
}

// RecordView bumps the view counter for slug.
func (c *Cache) RecordView(ctx context.Context, slug string) (int64, error) {
	return c.store.IncrementView(ctx, slug)
}

// Delete removes a page and its view counter.
func (c *Cache) Delete(ctx context.Context, slug string) error {
	_, err := c.store.UpdateSnapshot(ctx, func(s *pool.Snapshot) {
		delete(s.Pages, slug)
		delete(s.ViewStats, slug)
	})
	if err != nil {
		return fmt.Errorf("delete page %q: %w", slug, err)
	}
	return nil
}

func (c *Cache) slugify(text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pool.Slugify(text, c.rng)
}

func (c *Cache) randIntn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Intn(n)
}

func hasPage(snap pool.Snapshot, slug string) bool {
	_, ok := snap.Pages[slug]
	return ok
}

// pagesForHost returns slugs on the host, or every slug when the host has
// none yet. Output is sorted for deterministic seeded selection.
func pagesForHost(snap pool.Snapshot, host string) []string {
	var onHost, all []string
	for slug, page := range snap.Pages {
		all = append(all, slug)
		if page.Host == host {
			onHost = append(onHost, slug)
		}
	}
	out := onHost
	if len(out) == 0 {
		out = all
	}
	sort.Strings(out)
	return out
}

func linksEqual(a, b []pool.Link) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitKeywords flattens comma-joined entries and trims whitespace.
func splitKeywords(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
