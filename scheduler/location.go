package scheduler

import "sync"

// Location is the single mutable place a fragment lives, such as the current
// history entry. ReplaceFragment overwrites the entry in place; it never adds
// a new one.
type Location interface {
	ReplaceFragment(fragment string) error
	Fragment() string
}

// MemoryLocation is a Location held in memory.
type MemoryLocation struct {
	mu       sync.RWMutex
	fragment string
	writes   int
}

var _ Location = (*MemoryLocation)(nil)

// NewMemoryLocation creates a location holding an initial fragment.
func NewMemoryLocation(initial string) *MemoryLocation {
	return &MemoryLocation{fragment: initial}
}

// ReplaceFragment stores fragment.
func (l *MemoryLocation) ReplaceFragment(fragment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.fragment = fragment
	l.writes++

	return nil
}

// Fragment returns the stored fragment.
func (l *MemoryLocation) Fragment() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.fragment
}

// Writes returns how many times ReplaceFragment was called.
func (l *MemoryLocation) Writes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.writes
}
