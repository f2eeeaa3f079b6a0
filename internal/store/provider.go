// Package store defines the persistence interface for the pool snapshot.
// By using an interface, the core stays decoupled from the storage engine;
// memory, file, and Postgres implementations live in sub-packages.
package store

import (
	"context"

	"github.com/mirrornet/pagepool/internal/pool"
)

// Provider is the narrow persistence contract the core depends on. The core
// never manages schema, locking, or retry internals; it only requires that
// snapshot writes are atomic per call and that view counts merge
// monotonically (a save must never reduce a previously observed count).
type Provider interface {
	// LoadSnapshot returns the full persisted state. A fresh backend
	// returns a default snapshot, not an error.
	LoadSnapshot(ctx context.Context) (pool.Snapshot, error)

	// SaveSnapshot persists the full state as one unit.
	SaveSnapshot(ctx context.Context, snap pool.Snapshot) error

	// UpdateSnapshot applies mutate to the current state and persists the
	// result atomically with respect to other Update/Save calls on this
	// provider. The resulting snapshot is returned.
	UpdateSnapshot(ctx context.Context, mutate func(*pool.Snapshot)) (pool.Snapshot, error)

	// IncrementView bumps the view counter for slug and returns the new
	// count. Counters are monotonically non-decreasing.
	IncrementView(ctx context.Context, slug string) (int64, error)

	// Close releases any resources held by the provider.
	Close() error
}
