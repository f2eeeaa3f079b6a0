package synth

import (
	"fmt"
	"strings"

	"github.com/mirrornet/pagepool/internal/pool"
)

const systemPrompt = "You are an SEO copywriter generating original, readable long-form articles."

// buildPrompt composes the user message for one article. The model must
// answer with a bare JSON object matching the article schema.
func buildPrompt(topic string, keywords []string, host string, links []pool.Link, minWords, maxWords int, referenceContext string) string {
	keywordText := strings.Join(keywords, ", ")
	if keywordText == "" {
		keywordText = "broad industry terms"
	}

	var linkLines []string
	for _, link := range links {
		linkLines = append(linkLines, fmt.Sprintf("- %s: %s", link.Label, link.URL))
	}
	linksText := strings.Join(linkLines, "\n")
	if linksText == "" {
		linksText = "no specific links"
	}

	referenceHint := "Do not call out data sources; keep the content smooth and natural."
	if referenceContext != "" {
		referenceHint = "You may draw supporting material from these excerpts:\n" + referenceContext
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a fully original, highly readable long-form article on the topic %q using the keywords [%s].\n", topic, keywordText)
	b.WriteString("The output must be a single valid JSON object with these top-level fields:\n")
	b.WriteString("  title (string): a natural headline with no sensational wording.\n")
	b.WriteString("  intro (string): 2-3 plain introductory sentences.\n")
	b.WriteString("  sections (array): at least 3 objects, each with heading (string) and content (array of strings) holding 2-3 full paragraphs.\n")
	b.WriteString("  bullets (array of strings): 3-5 key takeaways without repetition.\n")
	b.WriteString("  closing (string): one wrap-up paragraph.\n")
	b.WriteString("Writing requirements:\n")
	fmt.Fprintf(&b, "  - Write like an industry news feature, avoid hype, and keep the full text between %d and %d words.\n", minWords, maxWords)
	fmt.Fprintf(&b, "  - Ground the article in the context of the site %s, connecting the topic and keywords naturally.\n", host)
	fmt.Fprintf(&b, "  - If the following links exist, mention them with a reasonable transition:\n%s\n", linksText)
	fmt.Fprintf(&b, "  - %s\n", referenceHint)
	b.WriteString("  - If the topic looks like a placeholder such as \"pool-1234\" or a bare number, rewrite it into a natural, presentable theme before writing.\n")
	b.WriteString("  - Never output markdown, HTML, or commentary; return only the JSON object.")
	return b.String()
}
