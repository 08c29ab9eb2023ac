package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type entry struct {
	data    []byte
	expires time.Time
}

type memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns a process-local cache.
func NewMemory() Cache {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memory {
	return &memory{entries: make(map[string]entry), now: now}
}

func (m *memory) Get(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set with a non-positive ttl keeps the entry until it is overwritten or deleted.
func (m *memory) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := entry{data: data}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}
