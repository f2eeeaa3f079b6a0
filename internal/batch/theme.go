package batch

import (
	"fmt"
	"math/rand"

	"github.com/mirrornet/pagepool/internal/pool"
)

var themePrefixes = []string{
	"Trends in", "Inside", "Applied", "Spotlight on",
	"Updates on", "Watching", "Case notes on", "Living with",
}

var themeSuffixes = []string{
	"essentials", "at a glance", "explained", "panorama",
	"breakdown", "atlas", "key points", "collection",
}

var stockSeeds = []string{"industry", "products", "experience", "trends", "solutions"}

// Theme is a generated topic assignment for one batch job.
type Theme struct {
	Topic    string
	Keywords []string
	Slug     string
}

// randomTheme composes a topic from domain themes and configured keywords,
// mints a matching slug, and picks up to three keywords for the prompt.
func randomTheme(snap *pool.Snapshot, rng *rand.Rand) Theme {
	var seeds []string
	for _, d := range snap.Domains {
		if d.Topic != "" {
			seeds = append(seeds, d.Topic)
		}
	}
	var keywordPool []string
	for _, kw := range snap.Settings.DefaultKeywords {
		if kw != "" {
			keywordPool = append(keywordPool, kw)
		}
	}
	seeds = append(seeds, keywordPool...)
	seeds = append(seeds, stockSeeds...)

	base := seeds[rng.Intn(len(seeds))]
	topic := fmt.Sprintf("%s %s %s",
		themePrefixes[rng.Intn(len(themePrefixes))],
		base,
		themeSuffixes[rng.Intn(len(themeSuffixes))])

	keywords := append([]string(nil), keywordPool...)
	rng.Shuffle(len(keywords), func(i, j int) {
		keywords[i], keywords[j] = keywords[j], keywords[i]
	})
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	if len(keywords) == 0 {
		keywords = []string{base}
	}

	slug := pool.Slugify(fmt.Sprintf("%s-%04d", base, 1000+rng.Intn(9000)), rng)
	return Theme{Topic: topic, Keywords: keywords, Slug: slug}
}

// placeholderTheme mints a bare pool slug; the synthesizer formalizes the
// topic at generation time.
func placeholderTheme(rng *rand.Rand) Theme {
	slug := pool.Slugify(fmt.Sprintf("pool-%04d", 1000+rng.Intn(9000)), rng)
	return Theme{Slug: slug}
}
