// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/api"
	"github.com/mirrornet/pagepool/internal/backend"
	"github.com/mirrornet/pagepool/internal/batch"
	"github.com/mirrornet/pagepool/internal/clock/system"
	"github.com/mirrornet/pagepool/internal/config"
	"github.com/mirrornet/pagepool/internal/linkweaver"
	"github.com/mirrornet/pagepool/internal/pagecache"
	"github.com/mirrornet/pagepool/internal/progress"
	"github.com/mirrornet/pagepool/internal/progress/sinks"
	"github.com/mirrornet/pagepool/internal/reference"
	"github.com/mirrornet/pagepool/internal/store"
	filestore "github.com/mirrornet/pagepool/internal/store/file"
	"github.com/mirrornet/pagepool/internal/store/memory"
	"github.com/mirrornet/pagepool/internal/store/postgres"
	"github.com/mirrornet/pagepool/internal/synth"
)

// App holds the shared, long-lived services. It is initialized once at
// startup and closed once on shutdown.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	provider store.Provider
	hub      *progress.Hub
	server   *api.Server
}

// Options carries optional overrides for New. Zero values select the shared
// defaults.
type Options struct {
	Logger   *zap.Logger
	Registry prometheus.Registerer
}

// New wires every service from the configuration. It fails fast when any
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	seed := cfg.Random.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	nextSeed := seed
	newRng := func() *rand.Rand {
		nextSeed++
		return rand.New(rand.NewSource(nextSeed))
	}

	// An absent API key is a supported mode: pages come from the local
	// template path instead of the chat backend.
	var chat backend.ChatClient
	if cfg.Backend.APIKey == "" {
		logger.Info("no backend API key configured, using template generation only")
	} else {
		client, err := backend.NewClient(backend.Config{
			APIKey:     cfg.Backend.APIKey,
			BaseURL:    cfg.Backend.BaseURL,
			Model:      cfg.Backend.Model,
			Timeout:    cfg.Backend.Timeout(),
			MaxRetries: cfg.Backend.MaxRetries,
		}, logger)
		if err != nil {
			provider.Close()
			return nil, fmt.Errorf("initialize chat backend: %w", err)
		}
		chat = client
	}

	references := reference.New(reference.Config{
		UserAgent:      cfg.Reference.UserAgent,
		Timeout:        cfg.Reference.Timeout(),
		MaxSources:     cfg.Reference.MaxSources,
		PerSourceChars: cfg.Reference.PerSourceChars,
	}, logger)

	clock := system.New()
	weaver := linkweaver.New(newRng())
	synthesizer := synth.New(chat, references, newRng(), logger)
	cache := pagecache.New(provider, weaver, synthesizer, clock, cfg.Links.Desired, newRng(), logger)

	ring := sinks.NewRingSink(0)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("initialize prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink, ring)

	orchestrator := batch.New(cache, provider, hub, clock, cfg.Batch.MaxJobs, newRng(), logger)
	server := api.New(cfg, cache, orchestrator, provider, ring, newRng(), logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.Bool("backend", chat != nil),
		zap.Bool("auth", cfg.Auth.Enabled))

	return &App{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		hub:      hub,
		server:   server,
	}, nil
}

func newProvider(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Provider, error) {
	switch cfg.Store.Provider {
	case "memory":
		logger.Info("using in-memory store, state is lost on restart")
		return memory.New(), nil
	case "file":
		logger.Info("using file store", zap.String("path", cfg.Store.File.Path))
		st, err := filestore.New(cfg.Store.File.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize file store: %w", err)
		}
		return st, nil
	case "postgres":
		logger.Info("connecting to PostgreSQL")
		st, err := postgres.New(ctx, postgres.Config{DSN: cfg.Store.Postgres.DSN})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Router returns the HTTP handler for the full API surface.
func (a *App) Router() http.Handler {
	return a.server.Router()
}

// Close shuts services down in dependency order: the event hub first so
// in-flight progress reaches its sinks, then the store.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")

	var firstErr error
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("closing progress hub", zap.Error(err))
		firstErr = err
	}
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
