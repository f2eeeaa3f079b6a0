// Package postgres provides a Postgres-backed snapshot store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirrornet/pagepool/internal/pool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store persists the snapshot document and per-slug view counters.
// The snapshot lives in a single JSONB row; view counters get their own
// table so concurrent increments never rewrite the whole document.
type Store struct {
	pool pgxPool
}

const (
	createSnapshotTable = `
CREATE TABLE IF NOT EXISTS pool_snapshots (
	id INT PRIMARY KEY,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	createViewStatsTable = `
CREATE TABLE IF NOT EXISTS view_stats (
	slug TEXT PRIMARY KEY,
	count BIGINT NOT NULL DEFAULT 0
)`
	selectSnapshot          = `SELECT data FROM pool_snapshots WHERE id = 1`
	selectSnapshotForUpdate = `SELECT data FROM pool_snapshots WHERE id = 1 FOR UPDATE`
	upsertSnapshot          = `
INSERT INTO pool_snapshots (id, data, updated_at)
VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	selectViewStats = `SELECT slug, count FROM view_stats`
	mergeViewStat   = `
INSERT INTO view_stats (slug, count)
VALUES ($1, $2)
ON CONFLICT (slug) DO UPDATE SET count = GREATEST(view_stats.count, EXCLUDED.count)`
	deleteViewStat    = `DELETE FROM view_stats WHERE slug = $1`
	incrementViewStat = `
INSERT INTO view_stats (slug, count)
VALUES ($1, 1)
ON CONFLICT (slug) DO UPDATE SET count = view_stats.count + 1
RETURNING count`
)

// New connects to Postgres using cfg and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pgPool}
	if err := s.ensureSchema(ctx); err != nil {
		pgPool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pgPool pgxPool) (*Store, error) {
	if pgPool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pgPool}, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createSnapshotTable); err != nil {
		return fmt.Errorf("create pool_snapshots table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createViewStatsTable); err != nil {
		return fmt.Errorf("create view_stats table: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot row and overlays the view counters.
func (s *Store) LoadSnapshot(ctx context.Context) (pool.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, selectSnapshot).Scan(&data)
	snap := pool.DefaultSnapshot()
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// fresh database
	case err != nil:
		return pool.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	default:
		if err := json.Unmarshal(data, &snap); err != nil {
			return pool.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.Normalize()
	}

	views, err := s.loadViews(ctx)
	if err != nil {
		return pool.Snapshot{}, err
	}
	snap.ViewStats = views
	return snap, nil
}

func (s *Store) loadViews(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, selectViewStats)
	if err != nil {
		return nil, fmt.Errorf("load view stats: %w", err)
	}
	defer rows.Close()

	views := make(map[string]int64)
	for rows.Next() {
		var slug string
		var count int64
		if err := rows.Scan(&slug, &count); err != nil {
			return nil, fmt.Errorf("scan view stat: %w", err)
		}
		views[slug] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate view stats: %w", err)
	}
	return views, nil
}

// SaveSnapshot upserts the snapshot row and merges counters monotonically.
func (s *Store) SaveSnapshot(ctx context.Context, snap pool.Snapshot) error {
	snap.Normalize()
	data, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertSnapshot, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	for slug, count := range snap.ViewStats {
		if _, err := s.pool.Exec(ctx, mergeViewStat, slug, count); err != nil {
			return fmt.Errorf("merge view stat %q: %w", slug, err)
		}
	}
	return nil
}

// UpdateSnapshot mutates the snapshot row inside a transaction so concurrent
// writers on different processes serialize on the row lock.
func (s *Store) UpdateSnapshot(ctx context.Context, mutate func(*pool.Snapshot)) (pool.Snapshot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pool.Snapshot{}, fmt.Errorf("begin snapshot update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snap := pool.DefaultSnapshot()
	var data []byte
	err = tx.QueryRow(ctx, selectSnapshotForUpdate).Scan(&data)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// first write seeds the row
	case err != nil:
		return pool.Snapshot{}, fmt.Errorf("lock snapshot: %w", err)
	default:
		if err := json.Unmarshal(data, &snap); err != nil {
			return pool.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.Normalize()
	}

	views, err := s.loadViews(ctx)
	if err != nil {
		return pool.Snapshot{}, err
	}
	snap.ViewStats = views
	before := make(map[string]struct{}, len(views))
	for slug := range views {
		before[slug] = struct{}{}
	}

	mutate(&snap)
	snap.Normalize()

	out, err := marshalSnapshot(snap)
	if err != nil {
		return pool.Snapshot{}, err
	}
	if _, err := tx.Exec(ctx, upsertSnapshot, out); err != nil {
		return pool.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	for slug, count := range snap.ViewStats {
		if _, err := tx.Exec(ctx, mergeViewStat, slug, count); err != nil {
			return pool.Snapshot{}, fmt.Errorf("merge view stat %q: %w", slug, err)
		}
	}
	// Mutators that drop a counter expect the row gone too.
	for slug := range before {
		if _, ok := snap.ViewStats[slug]; ok {
			continue
		}
		if _, err := tx.Exec(ctx, deleteViewStat, slug); err != nil {
			return pool.Snapshot{}, fmt.Errorf("delete view stat %q: %w", slug, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return pool.Snapshot{}, fmt.Errorf("commit snapshot update: %w", err)
	}
	return snap, nil
}

// IncrementView bumps the counter for slug and returns the new count.
func (s *Store) IncrementView(ctx context.Context, slug string) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, incrementViewStat, slug).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment view %q: %w", slug, err)
	}
	return count, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// marshalSnapshot serializes the document without the counters, which live
// in their own table.
func marshalSnapshot(snap pool.Snapshot) ([]byte, error) {
	doc := snap.Clone()
	doc.ViewStats = map[string]int64{}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}
