package state

import (
	"context"
	"path"
	"sync"
	"time"
)

// memoryKV is a process-local backend for redis-less runs. Nothing
// survives the process; the manager semantics are otherwise identical.
type memoryKV struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Time
}

// NewMemory creates a state manager over a process-local backend.
func NewMemory(opts Options) *Manager {
	return newManager(&memoryKV{
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
	}, opts)
}

func (m *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	delete(m.expires, key)
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reapLocked(key) {
		return "", false, nil
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.expires, key)
	return nil
}

func (m *memoryKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if m.reapLocked(k) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// reapLocked deletes the key when its TTL has lapsed, reporting whether it
// did.
func (m *memoryKV) reapLocked(key string) bool {
	exp, ok := m.expires[key]
	if !ok || time.Now().Before(exp) {
		return false
	}
	delete(m.data, key)
	delete(m.expires, key)
	return true
}
