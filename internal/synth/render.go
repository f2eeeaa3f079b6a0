package synth

import (
	"fmt"
	"html"
	"strings"

	"github.com/mirrornet/pagepool/internal/pool"
)

const (
	untitledTitle    = "Untitled article"
	defaultHeading   = "Insights"
	keyPointsHeading = "Key points"
	relatedHeading   = "Related links"
	defaultKeyword   = "industry trends"
)

// renderHTML assembles the article body from a validated payload. Class
// names are part of the page contract; site templates style against them.
func renderHTML(payload articlePayload, links []pool.Link) (title, excerpt, body string) {
	title = strings.TrimSpace(payload.Title)
	if title == "" {
		title = untitledTitle
	}
	excerpt = strings.TrimSpace(payload.Intro)

	var parts []string
	if excerpt != "" {
		parts = append(parts, fmt.Sprintf("<p class=\"excerpt\">%s</p>", html.EscapeString(excerpt)))
	}
	for _, section := range payload.Sections {
		heading := strings.TrimSpace(section.Heading)
		if heading == "" {
			heading = defaultHeading
		}
		parts = append(parts, fmt.Sprintf("<h2>%s</h2>", html.EscapeString(heading)))
		for _, paragraph := range section.Content {
			if strings.TrimSpace(paragraph) == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("<p>%s</p>", html.EscapeString(paragraph)))
		}
	}

	if len(payload.Bullets) > 0 {
		parts = append(parts, fmt.Sprintf("<div class=\"key-points\"><h3>%s</h3><ul>", keyPointsHeading))
		for _, item := range payload.Bullets {
			parts = append(parts, fmt.Sprintf("<li>%s</li>", html.EscapeString(item)))
		}
		parts = append(parts, "</ul></div>")
	}

	if payload.Closing != "" {
		parts = append(parts, fmt.Sprintf("<p class=\"closing\">%s</p>", html.EscapeString(payload.Closing)))
	}

	parts = append(parts, renderLinkBlock(links)...)
	body = strings.Join(parts, "\n")
	return title, excerpt, body
}

// renderLinkBlock renders the related-links section. External targets carry
// rel attributes so the pool never passes authority outward.
func renderLinkBlock(links []pool.Link) []string {
	if len(links) == 0 {
		return nil
	}
	parts := []string{fmt.Sprintf("<div class=\"related-links\"><h3>%s</h3><ul>", relatedHeading)}
	for _, link := range links {
		rel := ""
		if link.External {
			rel = " rel=\"nofollow noopener\""
		}
		parts = append(parts, fmt.Sprintf("<li><a href=\"%s\"%s>%s</a></li>",
			html.EscapeString(link.URL), rel, html.EscapeString(link.Label)))
	}
	parts = append(parts, "</ul></div>")
	return parts
}

// fallbackArticle produces a deterministic template article when no backend
// is configured or the model output cannot be used. It is a success path,
// not an error path.
func fallbackArticle(topic string, keywords []string, links []pool.Link) pool.Article {
	keywordText := strings.Join(keywords, ", ")
	if keywordText == "" {
		keywordText = defaultKeyword
	}
	formalTopic := strings.TrimSpace(topic)
	if formalTopic == "" {
		formalTopic = "content network"
	}

	intro := fmt.Sprintf(
		"Interest in %s keeps climbing, and this page follows the semantic threads around %s with the cadence of a site that updates on a regular schedule.",
		formalTopic, keywordText)
	followups := []string{
		fmt.Sprintf("Beyond the basics, the page layers in extended notes drawn from %s, keeping paragraph length and tone close to an everyday news digest.", keywordText),
		"Dates, scenarios, and pain points appear throughout to give the record a lived-in feel, so a visitor reads it as a maintained topic hub rather than a one-off landing page.",
		"Soft references and follow-up pointers sit inside the paragraphs themselves, which lets the interlinking split one theme into several subtopics and knit them into a mesh.",
		"The overall register stays restrained, passing over technical detail in favor of the kind of measured observation an industry column would run.",
	}

	parts := []string{fmt.Sprintf("<p class=\"excerpt\">%s</p>", html.EscapeString(intro))}
	for _, paragraph := range followups {
		parts = append(parts, fmt.Sprintf("<p>%s</p>", html.EscapeString(paragraph)))
	}
	parts = append(parts, renderLinkBlock(links)...)

	return pool.Article{
		Title:     fmt.Sprintf("%s feature article", formalTopic),
		Excerpt:   intro,
		Body:      strings.Join(parts, "\n"),
		Topic:     formalTopic,
		Generator: pool.GeneratorLocal,
		Model:     "template",
	}
}
