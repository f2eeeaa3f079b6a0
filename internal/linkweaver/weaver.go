// Package linkweaver assembles the related-link set for a page, biased
// toward cross-host targets so the pool surfaces as one connected network.
package linkweaver

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/mirrornet/pagepool/internal/pool"
)

// DefaultDesired is the link count used when a caller does not ask for a
// specific amount.
const DefaultDesired = 6

const homeLabel = "Content network home"

// Weaver builds link sets from a snapshot. The random source is injected so
// tests can seed it; a mutex guards it because rand.Rand is not safe for
// concurrent use.
type Weaver struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Weaver around the given source. A nil rng gets a fixed seed.
func New(rng *rand.Rand) *Weaver {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Weaver{rng: rng}
}

// Build returns up to desired links for slug as seen from currentHost.
// External links claim roughly half the set; the rest are pool pages,
// preferring pages on other hosts. A page with no candidates at all gets a
// single home link so it never renders as a dead end.
func (w *Weaver) Build(snap *pool.Snapshot, slug string, desired int, currentHost string) []pool.Link {
	if desired <= 0 {
		desired = DefaultDesired
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	host := pool.RegistrableDomain(currentHost)

	var internal, fallback []string
	for key, page := range snap.Pages {
		if key == slug {
			continue
		}
		if pool.RegistrableDomain(page.Host) != host {
			internal = append(internal, key)
		} else {
			fallback = append(fallback, key)
		}
	}
	sortStrings(internal)
	sortStrings(fallback)
	w.shuffle(internal)
	w.shuffle(fallback)

	var crossHosts []string
	for _, d := range snap.Domains {
		if h := pool.RegistrableDomain(d.Host); h != "" && h != host {
			crossHosts = append(crossHosts, h)
		}
	}
	sortStrings(crossHosts)
	w.shuffle(crossHosts)

	links := w.pickExternal(snap.ExternalLinks, desired)

	for len(links) < desired && (len(internal) > 0 || len(fallback) > 0) {
		var target string
		if len(internal) > 0 {
			target, internal = internal[len(internal)-1], internal[:len(internal)-1]
		} else {
			target, fallback = fallback[len(fallback)-1], fallback[:len(fallback)-1]
		}
		page := snap.Pages[target]
		hostHint := pool.RegistrableDomain(page.Host)
		if hostHint == "" && len(crossHosts) > 0 {
			hostHint = crossHosts[0]
		}
		cross := hostHint != "" && hostHint != host

		label := page.Title
		if label == "" {
			label = target
		}
		label = strings.TrimSpace(strings.SplitN(label, "|", 2)[0])

		url := fmt.Sprintf("/p/%s", target)
		if cross {
			url = fmt.Sprintf("//%s/p/%s", hostHint, target)
		}
		links = append(links, pool.Link{Label: label, URL: url, External: cross})
	}

	if len(links) == 0 {
		if _, known := snap.Pages[slug]; !known {
			links = append(links, pool.Link{Label: homeLabel, URL: "/", External: false})
		}
	}

	if len(links) > desired {
		links = links[:desired]
	}
	return links
}

// pickExternal reserves roughly half the desired slots for external links,
// repeating the pool when it is smaller than the reservation.
func (w *Weaver) pickExternal(externals []pool.ExternalLink, desired int) []pool.Link {
	if len(externals) == 0 {
		return nil
	}
	repeated := make([]pool.ExternalLink, 0, desired+len(externals))
	for len(repeated) < desired+len(externals) {
		repeated = append(repeated, externals...)
	}
	w.rng.Shuffle(len(repeated), func(i, j int) {
		repeated[i], repeated[j] = repeated[j], repeated[i]
	})

	take := desired / 2
	if take == 0 {
		take = desired
	}
	if take > len(repeated) {
		take = len(repeated)
	}

	links := make([]pool.Link, 0, take)
	for _, item := range repeated[:take] {
		label := item.Label
		if label == "" {
			label = item.URL
		}
		links = append(links, pool.Link{Label: label, URL: item.URL, External: true})
	}
	return links
}

func (w *Weaver) shuffle(items []string) {
	w.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// sortStrings orders candidates before shuffling so map iteration order
// never leaks into seeded results.
func sortStrings(items []string) {
	sort.Strings(items)
}
