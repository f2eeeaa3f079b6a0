package pagecache

import "sync"

// keyedLock serializes work per slug so concurrent requests for the same
// page coalesce into one generation while different slugs proceed in
// parallel. Entries are reference counted and dropped at zero so the
// registry never grows with the page count.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*lockEntry)}
}

func (k *keyedLock) acquire(key string) *lockEntry {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (k *keyedLock) release(key string, entry *lockEntry) {
	entry.mu.Unlock()

	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
