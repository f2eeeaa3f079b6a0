package pool

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify normalizes a human-readable string into a URL-safe page key:
// lowercase `[a-z0-9]` segments joined by single hyphens with no leading or
// trailing hyphen. An input that normalizes to nothing yields a randomized
// placeholder of the form page-<4 digits> drawn from rng.
func Slugify(text string, rng *rand.Rand) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(text), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return fmt.Sprintf("page-%04d", 1000+rng.Intn(9000))
	}
	return slug
}

// RegistrableDomain reduces a hostname to its last two dot-separated labels
// so subdomains of one site compare equal for link diversity purposes. The
// port, if any, is dropped first.
func RegistrableDomain(host string) string {
	if host == "" {
		return ""
	}
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}
