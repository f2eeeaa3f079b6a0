package linkweaver

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrornet/pagepool/internal/pool"
)

func testSnapshot() *pool.Snapshot {
	snap := pool.DefaultSnapshot()
	snap.Domains = []pool.Domain{
		{Host: "alpha.example.com"},
		{Host: "beta.example.net"},
	}
	snap.ExternalLinks = []pool.ExternalLink{
		{Label: "Partner A", URL: "https://partner-a.example.org"},
		{Label: "Partner B", URL: "https://partner-b.example.org"},
	}
	snap.Pages["pool-1001"] = pool.Page{Slug: "pool-1001", Title: "Garden Irrigation | Alpha", Host: "alpha.example.com"}
	snap.Pages["pool-1002"] = pool.Page{Slug: "pool-1002", Title: "Patio Lighting", Host: "beta.example.net"}
	snap.Pages["pool-1003"] = pool.Page{Slug: "pool-1003", Title: "Fence Staining", Host: "alpha.example.com"}
	return &snap
}

func TestBuildCapsAtDesired(t *testing.T) {
	t.Parallel()

	w := New(rand.New(rand.NewSource(7)))
	links := w.Build(testSnapshot(), "pool-1001", 3, "alpha.example.com")
	require.LessOrEqual(t, len(links), 3)
	require.NotEmpty(t, links)
}

func TestBuildNeverLinksToSelf(t *testing.T) {
	t.Parallel()

	w := New(rand.New(rand.NewSource(7)))
	links := w.Build(testSnapshot(), "pool-1001", 6, "alpha.example.com")
	for _, l := range links {
		require.NotContains(t, l.URL, "pool-1001")
	}
}

func TestBuildReservesHalfForExternals(t *testing.T) {
	t.Parallel()

	w := New(rand.New(rand.NewSource(7)))
	links := w.Build(testSnapshot(), "pool-1001", 6, "alpha.example.com")

	externals := 0
	for _, l := range links {
		if strings.HasPrefix(l.URL, "https://partner-") {
			externals++
			require.True(t, l.External)
		}
	}
	require.Equal(t, 3, externals)
}

func TestBuildPrefersCrossHostPages(t *testing.T) {
	t.Parallel()

	w := New(rand.New(rand.NewSource(7)))
	links := w.Build(testSnapshot(), "pool-1003", 4, "alpha.example.com")

	// The beta-host page must appear before same-host fallbacks and carry a
	// protocol-relative cross-host URL.
	var crossPool []pool.Link
	for _, l := range links {
		if strings.Contains(l.URL, "/p/") && l.External {
			crossPool = append(crossPool, l)
		}
	}
	require.NotEmpty(t, crossPool)
	require.Contains(t, crossPool[0].URL, "//example.net/p/pool-1002")
}

func TestBuildTrimsTitleAtPipe(t *testing.T) {
	t.Parallel()

	w := New(rand.New(rand.NewSource(7)))
	links := w.Build(testSnapshot(), "pool-1002", 6, "beta.example.net")

	for _, l := range links {
		if strings.Contains(l.URL, "pool-1001") {
			require.Equal(t, "Garden Irrigation", l.Label)
			return
		}
	}
	t.Fatal("expected a link to pool-1001")
}

func TestBuildHomeLinkFallback(t *testing.T) {
	t.Parallel()

	snap := pool.DefaultSnapshot()
	w := New(rand.New(rand.NewSource(7)))
	links := w.Build(&snap, "brand-new", 6, "alpha.example.com")

	require.Len(t, links, 1)
	require.Equal(t, "/", links[0].URL)
	require.False(t, links[0].External)
}

func TestBuildDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	a := New(rand.New(rand.NewSource(42))).Build(testSnapshot(), "pool-1001", 6, "alpha.example.com")
	b := New(rand.New(rand.NewSource(42))).Build(testSnapshot(), "pool-1001", 6, "alpha.example.com")
	require.Equal(t, a, b)
}
