package api

import (
	"crypto/subtle"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/batch"
	"github.com/mirrornet/pagepool/internal/config"
	"github.com/mirrornet/pagepool/internal/metrics"
	"github.com/mirrornet/pagepool/internal/pagecache"
	"github.com/mirrornet/pagepool/internal/pool"
	"github.com/mirrornet/pagepool/internal/progress/sinks"
	"github.com/mirrornet/pagepool/internal/store"
)

const adminTimeout = 60 * time.Second

// Server wires the page cache, batch orchestrator, and store behind the HTTP
// routes.
type Server struct {
	cfg    config.Config
	cache  *pagecache.Cache
	batch  *batch.Orchestrator
	store  store.Provider
	ring   *sinks.RingSink
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Server. ring may be nil when no event history is kept; a nil
// rng gets a fixed seed.
func New(cfg config.Config, cache *pagecache.Cache, orch *batch.Orchestrator, provider store.Provider, ring *sinks.RingSink, rng *rand.Rand, logger *zap.Logger) *Server {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Server{
		cfg:    cfg,
		cache:  cache,
		batch:  orch,
		store:  provider,
		ring:   ring,
		logger: logger.Named("api"),
		rng:    rng,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/robots.txt", s.handleRobots)
	r.Get("/favicon.ico", http.NotFound)

	r.Get("/p/{slug}", s.handleServePage)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(adminTimeout))

			r.Get("/pages", s.handleListPages)
			r.Post("/pages", s.handleCreatePage)
			r.Get("/pages/{slug}", s.handleGetPage)
			r.Delete("/pages/{slug}", s.handleDeletePage)
			r.Post("/pages/{slug}/regenerate", s.handleRegeneratePage)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Get("/domains", s.handleListDomains)
			r.Post("/domains", s.handleAddDomain)
			r.Delete("/domains/{host}", s.handleDeleteDomain)

			r.Get("/external-links", s.handleListExternalLinks)
			r.Post("/external-links", s.handleAddExternalLink)
			r.Delete("/external-links", s.handleDeleteExternalLink)

			r.Get("/events", s.handleEvents)
		})

		// Batch runs can outlive the admin timeout; the request context
		// still cancels them on client disconnect.
		r.Post("/batch", s.handleBatch)
		r.Get("/batch/stream", s.handleBatchStream)
	})

	// Every unrouted GET resolves to a pool page so any path on any bound
	// host serves content.
	r.NotFound(s.handleWildcard)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("host", r.Host),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

// requireAPIKey guards the admin surface. The key is accepted from the
// X-API-Key header or the api_key query parameter.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Auth.APIKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) slugify(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool.Slugify(text, s.rng)
}
