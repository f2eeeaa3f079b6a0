package api

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/metrics"
	"github.com/mirrornet/pagepool/internal/pagecache"
	"github.com/mirrornet/pagepool/internal/pool"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady checks that the snapshot store answers before reporting ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.LoadSnapshot(r.Context()); err != nil {
		s.logger.Error("readiness probe failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleRobots keeps every crawler out of the pool.
func (s *Server) handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
}

// handleServePage is the public page endpoint. It registers the serving host,
// generates the page on first hit, and counts the view.
func (s *Server) handleServePage(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, chi.URLParam(r, "slug"))
}

// handleWildcard serves a pool page for any GET path that no route claimed,
// so arbitrary inbound URLs on a bound host land on content.
func (s *Server) handleWildcard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || reservedPath(r.URL.Path) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	host := metrics.SanitizeHost(r.Host)
	if err := s.cache.RegisterHost(r.Context(), host); err != nil {
		s.logger.Warn("register host", zap.String("host", host), zap.Error(err))
	}

	hint := strings.Trim(r.URL.Path, "/")
	page, err := s.cache.ResolveRandom(r.Context(), host, hint)
	if err != nil {
		s.logger.Error("resolve wildcard page", zap.String("path", r.URL.Path), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "page generation failed")
		return
	}

	s.countView(r, page.Slug, host)
	s.renderPage(w, page)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, slug string) {
	host := metrics.SanitizeHost(r.Host)
	if err := s.cache.RegisterHost(r.Context(), host); err != nil {
		s.logger.Warn("register host", zap.String("host", host), zap.Error(err))
	}

	page, err := s.cache.Ensure(r.Context(), slug, host, pagecache.EnsureOptions{})
	if err != nil {
		s.logger.Error("ensure page", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "page generation failed")
		return
	}

	s.countView(r, page.Slug, host)
	s.renderPage(w, page)
}

func (s *Server) countView(r *http.Request, slug, host string) {
	if _, err := s.cache.RecordView(r.Context(), slug); err != nil {
		s.logger.Warn("record view", zap.String("slug", slug), zap.Error(err))
	}
	metrics.ObservePageView(host)
}

func (s *Server) renderPage(w http.ResponseWriter, page pool.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	title := html.EscapeString(page.Title)
	fmt.Fprintf(w, `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
</head>
<body>
<main>
<article>
<h1>%s</h1>
%s
</article>
</main>
</body>
</html>
`, title, title, page.Body)
}

// reservedPath keeps service endpoints from falling through to the wildcard.
func reservedPath(path string) bool {
	for _, prefix := range []string{"/v1", "/metrics", "/healthz", "/readyz", "/robots.txt", "/favicon.ico"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// pageSummary is the list-view projection of a page.
type pageSummary struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Topic     string `json:"topic,omitempty"`
	Host      string `json:"host,omitempty"`
	Generator string `json:"generator,omitempty"`
	Views     int64  `json:"views"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}

	summaries := make([]pageSummary, 0, len(snap.Pages))
	for slug, page := range snap.Pages {
		item := pageSummary{
			Slug:      slug,
			Title:     page.Title,
			Topic:     page.Topic,
			Host:      page.Host,
			Generator: page.Generator,
			Views:     snap.ViewStats[slug],
		}
		if !page.CreatedAt.IsZero() {
			item.CreatedAt = page.CreatedAt.Format(time.RFC3339)
		}
		if !page.UpdatedAt.IsZero() {
			item.UpdatedAt = page.UpdatedAt.Format(time.RFC3339)
		}
		summaries = append(summaries, item)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Slug < summaries[j].Slug })

	s.writeJSON(w, http.StatusOK, map[string]any{
		"pages": summaries,
		"total": len(summaries),
	})
}

type pageRequest struct {
	Slug          string   `json:"slug"`
	Host          string   `json:"host"`
	Topic         string   `json:"topic"`
	Keywords      []string `json:"keywords"`
	MinWords      int      `json:"min_words"`
	MaxWords      int      `json:"max_words"`
	ReferenceURLs []string `json:"reference_urls"`
	Force         bool     `json:"force"`
}

type pageResponse struct {
	pool.Page
	Views int64 `json:"views"`
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Slug == "" && req.Topic == "" {
		s.writeError(w, http.StatusBadRequest, "slug or topic is required")
		return
	}

	slug := req.Slug
	if slug == "" {
		slug = s.slugify(req.Topic)
	} else {
		slug = s.slugify(slug)
	}
	host := req.Host
	if host == "" {
		host = metrics.SanitizeHost(r.Host)
	}

	// A bare page still generates on first Ensure; force only matters when
	// the slug already has a body.
	page, err := s.cache.Ensure(r.Context(), slug, host, s.ensureOptions(req, req.Force))
	if err != nil {
		s.logger.Error("create page", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "page generation failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, pageResponse{Page: page})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snap, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}
	page, ok := snap.Pages[slug]
	if !ok {
		s.writeError(w, http.StatusNotFound, "page not found")
		return
	}
	s.writeJSON(w, http.StatusOK, pageResponse{Page: page, Views: snap.ViewStats[slug]})
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	_, ok, err := s.cache.Lookup(r.Context(), slug)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err := s.cache.Delete(r.Context(), slug); err != nil {
		s.logger.Error("delete page", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegeneratePage forces a fresh article for an existing slug. Overrides
// in the body are optional.
func (s *Server) handleRegeneratePage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req pageRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	existing, ok, err := s.cache.Lookup(r.Context(), slug)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "page not found")
		return
	}

	host := req.Host
	if host == "" {
		host = existing.Host
	}
	if host == "" {
		host = metrics.SanitizeHost(r.Host)
	}

	page, err := s.cache.Ensure(r.Context(), slug, host, s.ensureOptions(req, true))
	if err != nil {
		s.logger.Error("regenerate page", zap.String("slug", slug), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "page generation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, pageResponse{Page: page})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Settings)
}

// handleUpdateSettings replaces the generation settings. Invalid values are
// auto-corrected, never rejected, so a sloppy admin payload cannot wedge
// generation.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in pool.GenerationSettings
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.store.UpdateSnapshot(r.Context(), func(snap *pool.Snapshot) {
		snap.Settings = in.Normalized()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "save settings failed")
		return
	}
	s.writeJSON(w, http.StatusOK, updated.Settings)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": snap.Domains})
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	var in pool.Domain
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.Host = metrics.SanitizeHost(in.Host)
	if in.Host == "" || in.Host == "unknown" {
		s.writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if in.Label == "" {
		in.Label = in.Host
	}

	_, err := s.store.UpdateSnapshot(r.Context(), func(snap *pool.Snapshot) {
		for i, d := range snap.Domains {
			if d.Host == in.Host {
				snap.Domains[i] = in
				return
			}
		}
		snap.Domains = append(snap.Domains, in)
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "save domain failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	host := metrics.SanitizeHost(chi.URLParam(r, "host"))

	found := false
	_, err := s.store.UpdateSnapshot(r.Context(), func(snap *pool.Snapshot) {
		kept := snap.Domains[:0]
		for _, d := range snap.Domains {
			if d.Host == host {
				found = true
				continue
			}
			kept = append(kept, d)
		}
		snap.Domains = kept
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "delete domain failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExternalLinks(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "load snapshot failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"external_links": snap.ExternalLinks})
}

func (s *Server) handleAddExternalLink(w http.ResponseWriter, r *http.Request) {
	var in pool.ExternalLink
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		s.writeError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}

	_, err := s.store.UpdateSnapshot(r.Context(), func(snap *pool.Snapshot) {
		for i, l := range snap.ExternalLinks {
			if l.URL == in.URL {
				snap.ExternalLinks[i] = in
				return
			}
		}
		snap.ExternalLinks = append(snap.ExternalLinks, in)
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "save link failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleDeleteExternalLink(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	found := false
	_, err := s.store.UpdateSnapshot(r.Context(), func(snap *pool.Snapshot) {
		kept := snap.ExternalLinks[:0]
		for _, l := range snap.ExternalLinks {
			if l.URL == url {
				found = true
				continue
			}
			kept = append(kept, l)
		}
		snap.ExternalLinks = kept
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "delete link failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "link not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ensureOptions(req pageRequest, force bool) pagecache.EnsureOptions {
	return pagecache.EnsureOptions{
		Topic:         req.Topic,
		Keywords:      req.Keywords,
		MinWords:      req.MinWords,
		MaxWords:      req.MaxWords,
		ReferenceURLs: req.ReferenceURLs,
		Force:         force,
	}
}

// decodeJSON reads a JSON body, rejecting unknown fields.
func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
