package progress

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps entries in a process-local map. Entries older than
// the TTL are treated as absent and dropped by Prune.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[int64]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryTracker creates an empty tracker. A zero ttl keeps entries forever.
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[int64]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryTracker) Update(ctx context.Context, dreamID int64, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = m.now()
	}
	m.mu.Lock()
	m.entries[dreamID] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Read(ctx context.Context, dreamID int64) (Entry, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[dreamID]
	m.mu.RUnlock()
	if !ok || m.expired(entry) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Prune removes expired entries and returns how many were dropped.
func (m *MemoryTracker) Prune(ctx context.Context) (int, error) {
	if m.ttl <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryTracker) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryTracker) expired(entry Entry) bool {
	return m.ttl > 0 && m.now().Sub(entry.UpdatedAt) > m.ttl
}

var _ Tracker = (*MemoryTracker)(nil)
