// Package kv provides the string key-value substrate the queue is persisted to.
package kv

import (
	"context"
	"maps"
	"sync"
)

// Store reads and writes string blobs by key. Set applies all entries
// atomically: readers see either none or all of them.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, entries map[string]string) error
	Close() error
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get returns the values present for keys; absent keys are omitted.
func (m *Memory) Get(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set stores all entries.
func (m *Memory) Set(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.data, entries)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
