package synth

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

var (
	placeholderTopic   = regexp.MustCompile(`^(pool|page)[\s_-]*\d{3,5}$`)
	bareNumberTopic    = regexp.MustCompile(`^\d{3,6}$`)
	placeholderInTitle = regexp.MustCompile(`pool[\s_-]*\d{3,5}`)
)

var defaultTopics = []string{
	"Industry trend briefing",
	"Popular topics roundup",
	"Hands-on experience notes",
	"Product update digest",
}

var topicTemplates = []string{
	"%s topic overview",
	"%s field notes",
	"%s highlights digest",
	"%s news roundup",
}

var titleTemplates = []string{
	"%s in depth",
	"%s at a glance",
	"%s key takeaways",
}

// formalizeTopic turns slugs and numeric placeholders into a presentable
// topic. Empty input draws from a stock pool so every page gets a theme.
func formalizeTopic(raw string, keywords []string, host string, rng *rand.Rand) string {
	topic := strings.TrimSpace(raw)
	if topic == "" {
		return defaultTopics[rng.Intn(len(defaultTopics))]
	}

	lowered := strings.ToLower(topic)
	if placeholderTopic.MatchString(lowered) || bareNumberTopic.MatchString(lowered) {
		base := ""
		if len(keywords) > 0 {
			base = strings.TrimSpace(keywords[0])
		}
		if base == "" {
			base = strings.SplitN(host, ":", 2)[0]
		}
		if base == "" {
			base = "site"
		}
		topic = fmt.Sprintf(topicTemplates[rng.Intn(len(topicTemplates))], base)
	}
	return topic
}

// safeTitle rejects model titles that leak pool placeholders back out.
func safeTitle(title, topic string, rng *rand.Rand) string {
	candidate := strings.TrimSpace(title)
	if candidate == "" {
		candidate = topic
	}
	if placeholderInTitle.MatchString(strings.ToLower(candidate)) {
		candidate = fmt.Sprintf(titleTemplates[rng.Intn(len(titleTemplates))], topic)
	}
	return candidate
}
