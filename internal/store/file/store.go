// Package file persists the pool snapshot as a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/pool"
)

// Store reads and writes the snapshot at a fixed path. Writes go through a
// temp file and rename so a crash mid-write never corrupts the document.
type Store struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	snap pool.Snapshot
}

// New opens (or initializes) the store at path. A missing or unreadable
// document yields a default snapshot; a corrupt one is logged and replaced
// rather than treated as fatal.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger.Named("store.file"),
	}

	snap, err := s.readDocument()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("snapshot unreadable, starting fresh",
				zap.String("path", path),
				zap.Error(err))
		}
		snap = pool.DefaultSnapshot()
	}
	snap.Normalize()
	s.snap = snap

	if err := s.writeDocument(snap); err != nil {
		return nil, fmt.Errorf("initialize snapshot file: %w", err)
	}
	return s, nil
}

func (s *Store) readDocument() (pool.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return pool.Snapshot{}, err
	}
	var snap pool.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return pool.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) writeDocument(snap pool.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// LoadSnapshot returns a deep copy of the cached state.
func (s *Store) LoadSnapshot(_ context.Context) (pool.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone(), nil
}

// SaveSnapshot replaces the state on disk, merging view counts monotonically.
func (s *Store) SaveSnapshot(_ context.Context, snap pool.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap = snap.Clone()
	snap.Normalize()
	snap.MergeViews(s.snap.ViewStats)
	if err := s.writeDocument(snap); err != nil {
		return err
	}
	s.snap = snap
	return nil
}

// UpdateSnapshot applies mutate under the store lock and persists the
// result. The mutation runs against current state, so view deletions stick.
func (s *Store) UpdateSnapshot(_ context.Context, mutate func(*pool.Snapshot)) (pool.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snap.Clone()
	mutate(&next)
	next.Normalize()
	if err := s.writeDocument(next); err != nil {
		return pool.Snapshot{}, err
	}
	s.snap = next
	return s.snap.Clone(), nil
}

// IncrementView bumps the counter for slug and persists the change.
func (s *Store) IncrementView(_ context.Context, slug string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ViewStats[slug]++
	count := s.snap.ViewStats[slug]
	if err := s.writeDocument(s.snap); err != nil {
		return 0, err
	}
	return count, nil
}

// Close implements store.Provider; the file needs no teardown.
func (s *Store) Close() error { return nil }
