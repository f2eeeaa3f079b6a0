package pool

import "time"

// Generator tags which path produced a page body.
const (
	GeneratorAI    = "ai"
	GeneratorLocal = "local"
)

// Link is one outbound reference rendered on a page. External marks links
// that cross the owning site's trust boundary, either true third-party URLs
// or synthesized cross-host URLs.
type Link struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	External bool   `json:"external"`
}

// Page is a generated content page, keyed by its slug.
type Page struct {
	Slug      string    `json:"slug"`
	Topic     string    `json:"topic,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	Host      string    `json:"host,omitempty"`
	Title     string    `json:"title,omitempty"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Body      string    `json:"body,omitempty"`
	Links     []Link    `json:"links,omitempty"`
	Generator string    `json:"generator,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Generated reports whether the page carries a rendered body. A page is never
// persisted in a half-generated state; either Body is empty (bare record) or
// the full article fields are present.
func (p Page) Generated() bool {
	return p.Body != ""
}

// Domain is a virtual host registered with the pool. Domains are appended
// lazily the first time a request for an unknown host is observed and are
// never mutated by generation.
type Domain struct {
	Host  string `json:"host"`
	Label string `json:"label"`
	Topic string `json:"topic,omitempty"`
}

// ExternalLink is one entry in the admin-curated outbound link pool.
type ExternalLink struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// Article is the output of one synthesis run, merged into a Page by the
// cache layer.
type Article struct {
	Title     string
	Excerpt   string
	Body      string
	Topic     string
	Generator string
	Model     string
}

// SynthRequest carries everything a synthesis run needs. The settings are
// snapshotted by the caller before the run; the synthesizer never reads
// shared mutable state.
type SynthRequest struct {
	Topic         string
	Keywords      []string
	Host          string
	Links         []Link
	MinWords      int
	MaxWords      int
	ReferenceURLs []string
}

// Clock abstracts time.Now so tests can control timestamps.
type Clock interface {
	Now() time.Time
}
