// Package memory provides an in-memory snapshot store for development and
// testing.
package memory

import (
	"context"
	"sync"

	"github.com/mirrornet/pagepool/internal/pool"
)

// Store keeps the snapshot in process memory behind a mutex.
type Store struct {
	mu   sync.Mutex
	snap pool.Snapshot
}

// New constructs a Store seeded with a default snapshot.
func New() *Store {
	return &Store{snap: pool.DefaultSnapshot()}
}

// NewWithSnapshot constructs a Store seeded with the given state.
func NewWithSnapshot(snap pool.Snapshot) *Store {
	snap.Normalize()
	return &Store{snap: snap.Clone()}
}

// LoadSnapshot returns a deep copy of the current state.
func (s *Store) LoadSnapshot(_ context.Context) (pool.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone(), nil
}

// SaveSnapshot replaces the state, merging view counts monotonically.
func (s *Store) SaveSnapshot(_ context.Context, snap pool.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap = snap.Clone()
	snap.Normalize()
	snap.MergeViews(s.snap.ViewStats)
	s.snap = snap
	return nil
}

// UpdateSnapshot applies mutate under the store lock. Unlike SaveSnapshot,
// the mutation runs against current state, so view deletions stick.
func (s *Store) UpdateSnapshot(_ context.Context, mutate func(*pool.Snapshot)) (pool.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snap.Clone()
	mutate(&next)
	next.Normalize()
	s.snap = next
	return s.snap.Clone(), nil
}

// IncrementView bumps the counter for slug.
func (s *Store) IncrementView(_ context.Context, slug string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ViewStats[slug]++
	return s.snap.ViewStats[slug], nil
}

// Close implements store.Provider; it performs no action.
func (s *Store) Close() error { return nil }
