// Package state remembers which messages a sink already holds.
package state

import (
	"sync"
)

type Tracker interface {
	AlreadyProcessed(key string) bool
	MarkProcessed(key string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
}

// MemoryTracker is seeded by each sink from what it finds on open and
// updated as messages are stored.
type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]struct{})}
}

func (m *MemoryTracker) AlreadyProcessed(key string) bool {
	if key == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.processed[key]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkProcessed(key string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	m.processed[key] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}
