package repository

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Repository. Values live for the lifetime of the
// instance.
type Memory struct {
	mu      sync.RWMutex
	records map[string]string
}

// NewMemory returns an empty in-process repository.
func NewMemory() *Memory {
	return &Memory{records: map[string]string{}}
}

// Has reports whether key is stored.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[key]
	return ok, nil
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.records[key]
	return value, ok, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.records[key] = value
	m.mu.Unlock()
	return nil
}

// Forget removes key.
func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored storage keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
