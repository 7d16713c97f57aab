package position

import (
	"sort"
	"sync"
)

// Book holds the latest known state of every monitored position.
//
// Writers take the exclusive lock; View holds the shared lock for the whole
// callback so a merge never interleaves with an in-progress sweep.
type Book struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewBook seeds a book, typically from a persisted snapshot.
func NewBook(initial map[string]Position) *Book {
	positions := make(map[string]Position, len(initial))
	for key, pos := range initial {
		positions[key] = pos
	}
	return &Book{positions: positions}
}

// Merge inserts or replaces the position under its key.
func (b *Book) Merge(pos Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.Key()] = pos
}

// MergeSnapshot merges pos and returns a copy of the resulting book, both
// under the same write lock so the copy reflects exactly this merge.
func (b *Book) MergeSnapshot(pos Position) map[string]Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[pos.Key()] = pos
	out := make(map[string]Position, len(b.positions))
	for key, p := range b.positions {
		out[key] = p
	}
	return out
}

// Snapshot returns a copy of the full book.
func (b *Book) Snapshot() map[string]Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Position, len(b.positions))
	for key, pos := range b.positions {
		out[key] = pos
	}
	return out
}

// Len reports how many positions are tracked.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Get looks up a single position.
func (b *Book) Get(key string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[key]
	return pos, ok
}

// View runs fn over the positions in key order while holding a read view.
// Iteration stops at the first error, which is returned.
func (b *Book) View(fn func(positions []Position) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.positions))
	for key := range b.positions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ordered := make([]Position, 0, len(keys))
	for _, key := range keys {
		ordered = append(ordered, b.positions[key])
	}
	return fn(ordered)
}
