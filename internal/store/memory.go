package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    string
	deadline time.Time
}

// MemoryEngine is an in-process Engine for tests and single-node dev runs.
// Expired entries are dropped lazily on read.
type MemoryEngine struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryEngine) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.deadline.IsZero() && m.now().After(e.deadline) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryEngine) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.deadline = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryEngine) ForEach(_ context.Context, fn func(key, value string) error) error {
	m.mu.RLock()
	snapshot := make(map[string]memoryEntry, len(m.entries))
	for k, e := range m.entries {
		snapshot[k] = e
	}
	m.mu.RUnlock()

	now := m.now()
	for k, e := range snapshot {
		if !e.deadline.IsZero() && now.After(e.deadline) {
			continue
		}
		if err := fn(k, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryEngine) Close() error { return nil }
