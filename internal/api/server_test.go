package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/batch"
	"github.com/mirrornet/pagepool/internal/config"
	"github.com/mirrornet/pagepool/internal/linkweaver"
	"github.com/mirrornet/pagepool/internal/pagecache"
	"github.com/mirrornet/pagepool/internal/pool"
	"github.com/mirrornet/pagepool/internal/progress"
	"github.com/mirrornet/pagepool/internal/progress/sinks"
	"github.com/mirrornet/pagepool/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

// stubGenerator produces a deterministic article without any backend.
type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req pool.SynthRequest) (pool.Article, error) {
	return pool.Article{
		Title:     "Notes on " + req.Topic,
		Excerpt:   "A short look at " + req.Topic + ".",
		Body:      "<p>Body about " + req.Topic + "</p>",
		Topic:     req.Topic,
		Generator: pool.GeneratorAI,
		Model:     "stub",
	}, nil
}

type testEnv struct {
	server *Server
	store  *memory.Store
	ts     *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.Config, seed pool.Snapshot) *testEnv {
	t.Helper()

	st := memory.NewWithSnapshot(seed)
	clock := fixedClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	weaver := linkweaver.New(rand.New(rand.NewSource(7)))
	cache := pagecache.New(st, weaver, stubGenerator{}, clock, cfg.Links.Desired, rand.New(rand.NewSource(7)), zap.NewNop())
	orch := batch.New(cache, st, nil, clock, cfg.Batch.MaxJobs, rand.New(rand.NewSource(7)), zap.NewNop())
	ring := sinks.NewRingSink(50)

	srv := New(cfg, cache, orch, st, ring, rand.New(rand.NewSource(7)), zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, store: st, ts: ts}
}

func seededSnapshot() pool.Snapshot {
	snap := pool.DefaultSnapshot()
	snap.Domains = []pool.Domain{
		{Host: "alpha.example.com", Label: "Alpha", Topic: "garden irrigation"},
	}
	snap.ExternalLinks = []pool.ExternalLink{
		{Label: "Vendor", URL: "https://vendor.example.org/"},
	}
	snap.Pages["drip-lines"] = pool.Page{
		Slug:      "drip-lines",
		Title:     "Drip lines | Alpha",
		Excerpt:   "All about drip lines.",
		Body:      "<p>existing</p>",
		Topic:     "drip lines",
		Host:      "alpha.example.com",
		Generator: pool.GeneratorAI,
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	snap.ViewStats["drip-lines"] = 3
	return snap
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Store:  config.StoreConfig{Provider: "memory"},
		Links:  config.LinksConfig{Desired: 6},
		Batch:  config.BatchConfig{MaxJobs: 30},
	}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(env.ts.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestRobotsDisallowsEverything(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp, err := http.Get(env.ts.URL + "/robots.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Disallow: /")
}

func TestServePageGeneratesAndCountsView(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp, err := http.Get(env.ts.URL + "/p/garden-irrigation")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Notes on garden irrigation")

	snap, err := env.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	page, ok := snap.Pages["garden-irrigation"]
	require.True(t, ok)
	require.True(t, page.Generated())
	require.Equal(t, int64(1), snap.ViewStats["garden-irrigation"])
	require.NotEmpty(t, snap.Domains, "serving host should self-register")
}

func TestWildcardServesContent(t *testing.T) {
	env := newTestEnv(t, testConfig(), seededSnapshot())

	resp, err := http.Get(env.ts.URL + "/any/old/path")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestWildcardIgnoresReservedPaths(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp, err := http.Get(env.ts.URL + "/v1/nope")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/any/path", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestListPagesIncludesViews(t *testing.T) {
	env := newTestEnv(t, testConfig(), seededSnapshot())

	var out struct {
		Pages []pageSummary `json:"pages"`
		Total int           `json:"total"`
	}
	decodeBody(t, doJSON(t, http.MethodGet, env.ts.URL+"/v1/pages", nil), &out)

	require.Equal(t, 1, out.Total)
	require.Equal(t, "drip-lines", out.Pages[0].Slug)
	require.Equal(t, int64(3), out.Pages[0].Views)
}

func TestCreatePageFromTopic(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/v1/pages", map[string]any{
		"topic":    "Smart Sensors 101",
		"keywords": []string{"sensors", "telemetry"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out pageResponse
	decodeBody(t, resp, &out)
	require.Equal(t, "smart-sensors-101", out.Slug)
	require.True(t, out.Generated())
	require.Equal(t, pool.GeneratorAI, out.Generator)
}

func TestCreatePageRequiresSlugOrTopic(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/v1/pages", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestGetPage(t *testing.T) {
	env := newTestEnv(t, testConfig(), seededSnapshot())

	var out pageResponse
	resp := doJSON(t, http.MethodGet, env.ts.URL+"/v1/pages/drip-lines", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	require.Equal(t, "drip-lines", out.Slug)
	require.Equal(t, int64(3), out.Views)

	resp = doJSON(t, http.MethodGet, env.ts.URL+"/v1/pages/unknown", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestDeletePage(t *testing.T) {
	env := newTestEnv(t, testConfig(), seededSnapshot())

	resp := doJSON(t, http.MethodDelete, env.ts.URL+"/v1/pages/drip-lines", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	snap, err := env.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.NotContains(t, snap.Pages, "drip-lines")
	require.NotContains(t, snap.ViewStats, "drip-lines")

	resp = doJSON(t, http.MethodDelete, env.ts.URL+"/v1/pages/drip-lines", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestRegeneratePage(t *testing.T) {
	env := newTestEnv(t, testConfig(), seededSnapshot())

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/v1/pages/drip-lines/regenerate", map[string]any{
		"topic": "drip line maintenance",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out pageResponse
	decodeBody(t, resp, &out)
	require.Equal(t, "Notes on drip line maintenance", out.Title)

	resp = doJSON(t, http.MethodPost, env.ts.URL+"/v1/pages/unknown/regenerate", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp := doJSON(t, http.MethodPut, env.ts.URL+"/v1/settings", map[string]any{
		"article_min_words": 100,
		"article_max_words": 50,
		"thread_count":      4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out pool.GenerationSettings
	decodeBody(t, resp, &out)
	require.Equal(t, pool.MinWordsFloor, out.MinWords)
	require.Equal(t, pool.MinWordsFloor+pool.WordMargin, out.MaxWords)
	require.Equal(t, 4, out.ThreadCount)

	var fetched pool.GenerationSettings
	decodeBody(t, doJSON(t, http.MethodGet, env.ts.URL+"/v1/settings", nil), &fetched)
	require.Equal(t, out, fetched)
}

func TestDomainAdminRoundTrip(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/v1/domains", map[string]any{
		"host":  "Beta.Example.COM:8443",
		"topic": "marine electronics",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created pool.Domain
	decodeBody(t, resp, &created)
	require.Equal(t, "beta.example.com", created.Host)
	require.Equal(t, "beta.example.com", created.Label)

	var list struct {
		Domains []pool.Domain `json:"domains"`
	}
	decodeBody(t, doJSON(t, http.MethodGet, env.ts.URL+"/v1/domains", nil), &list)
	require.Len(t, list.Domains, 1)

	resp = doJSON(t, http.MethodDelete, env.ts.URL+"/v1/domains/beta.example.com", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp = doJSON(t, http.MethodDelete, env.ts.URL+"/v1/domains/beta.example.com", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestExternalLinkAdmin(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/v1/external-links", map[string]any{
		"label": "Docs",
		"url":   "https://docs.example.org/",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp = doJSON(t, http.MethodPost, env.ts.URL+"/v1/external-links", map[string]any{
		"url": "ftp://bad.example.org/",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp = doJSON(t, http.MethodDelete,
		env.ts.URL+"/v1/external-links?url="+"https%3A%2F%2Fdocs.example.org%2F", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	snap, err := env.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.ExternalLinks)
}

func TestAPIKeyGuardsAdminOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "sesame"}
	env := newTestEnv(t, cfg, seededSnapshot())

	resp := doJSON(t, http.MethodGet, env.ts.URL+"/v1/pages", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/pages", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sesame")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	// Query parameter form also works.
	resp = doJSON(t, http.MethodGet, env.ts.URL+"/v1/pages?api_key=sesame", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	// Public page serving stays open.
	resp, err = http.Get(env.ts.URL + "/p/drip-lines")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestBatchRun(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp := doJSON(t, http.MethodPost, env.ts.URL+"/v1/batch", map[string]any{"count": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		BatchID   string   `json:"batch_id"`
		Total     int      `json:"total"`
		Generated []string `json:"generated"`
		Failed    []string `json:"failed"`
	}
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.BatchID)
	require.Equal(t, 3, out.Total)
	require.Len(t, out.Generated, 3)
	require.Empty(t, out.Failed)
}

func TestBatchStreamEmitsNDJSON(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	resp, err := http.Get(env.ts.URL + "/v1/batch/stream?count=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "application/x-ndjson")

	var lines []streamLine
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var line streamLine
		require.NoError(t, json.Unmarshal([]byte(text), &line), "line: %s", text)
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())

	// one line per completed job + done sentinel, no start marker
	require.Len(t, lines, 3)
	require.Equal(t, "done", lines[len(lines)-1].Status)
	require.NotEmpty(t, lines[len(lines)-1].BatchID)

	var pages int
	for _, line := range lines[:len(lines)-1] {
		require.Empty(t, line.Status)
		require.NotEmpty(t, line.Slug)
		require.Equal(t, 2, line.Total)
		pages++
	}
	require.Equal(t, 2, pages)
}

func TestEventsHistory(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	// Seed history directly through the ring sink.
	batchID := [16]byte{1}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.server.ring.Consume(context.Background(), []progress.Event{
		{BatchID: batchID, TS: now, Stage: progress.StageBatchStart, Total: 2, Host: "alpha.example.com"},
		{BatchID: batchID, TS: now, Stage: progress.StagePageDone, Index: 1, Total: 2, Slug: "one", Title: "One"},
		{BatchID: batchID, TS: now, Stage: progress.StagePageDone, Index: 2, Total: 2, Slug: "two", Title: "Two"},
		{BatchID: batchID, TS: now, Stage: progress.StageBatchDone, Total: 2, Dur: 3 * time.Second},
	}))

	var out struct {
		Events []eventRecord `json:"events"`
	}
	decodeBody(t, doJSON(t, http.MethodGet, env.ts.URL+"/v1/events", nil), &out)
	require.Len(t, out.Events, 4)
	// Newest first.
	require.Equal(t, string(progress.StageBatchDone), out.Events[0].Stage)
	require.Equal(t, int64(3000), out.Events[0].DurationMS)

	decodeBody(t, doJSON(t, http.MethodGet, env.ts.URL+"/v1/events?limit=2", nil), &out)
	require.Len(t, out.Events, 2)
}

func TestConcurrentServesCoalesce(t *testing.T) {
	env := newTestEnv(t, testConfig(), pool.DefaultSnapshot())

	const n = 6
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			resp, err := http.Get(env.ts.URL + "/p/shared-topic")
			if err == nil {
				err = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					err = fmt.Errorf("status %d", resp.StatusCode)
				}
			}
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	snap, err := env.store.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(n), snap.ViewStats["shared-topic"])
}
