// Package state is the shared key-value layer the platform persists small
// documents to: planner sessions, coordination flags, anything JSON. The
// production backend is Redis; a narrow kv seam keeps the manager testable
// without one.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	keyPrefix    = "state:"
	temporaryTTL = time.Hour
)

// Entry is the stored envelope around a value: versioned, optionally
// temporary, with free-form metadata.
type Entry struct {
	Key       string            `json:"key"`
	Value     json.RawMessage   `json:"value"`
	Version   uint64            `json:"version"`
	Temporary bool              `json:"temporary"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SetOptions tunes one write.
type SetOptions struct {
	// Temporary entries expire server-side after an hour.
	Temporary bool
	Metadata  map[string]string
}

// Options tunes the manager.
type Options struct {
	// DisableCache makes every read go to the backend.
	DisableCache bool
}

// kv is the backend seam: string keys to string payloads, with optional
// expiry and pattern listing.
type kv interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Manager reads and writes versioned state entries with a local
// read-through cache.
type Manager struct {
	store kv

	mu      sync.RWMutex
	cache   map[string]Entry
	version uint64

	nocache bool
}

func newManager(store kv, opts Options) *Manager {
	return &Manager{
		store:   store,
		cache:   make(map[string]Entry),
		nocache: opts.DisableCache,
	}
}

// Set marshals the value into a fresh-versioned entry and writes it
// through to the backend and the cache.
func (m *Manager) Set(ctx context.Context, key string, value any, opts SetOptions) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal state %q: %w", key, err)
	}

	m.mu.Lock()
	m.version++
	entry := Entry{
		Key:       key,
		Value:     raw,
		Version:   m.version,
		Temporary: opts.Temporary,
		Metadata:  opts.Metadata,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal state entry %q: %w", key, err)
	}

	var ttl time.Duration
	if opts.Temporary {
		ttl = temporaryTTL
	}
	if err := m.store.Set(ctx, keyPrefix+key, string(payload), ttl); err != nil {
		return fmt.Errorf("store state %q: %w", key, err)
	}

	if !m.nocache {
		m.mu.Lock()
		m.cache[key] = entry
		m.mu.Unlock()
	}
	return nil
}

// Get unmarshals the entry's value into out, serving from the cache when
// possible. The second return is false when the key does not exist.
func (m *Manager) Get(ctx context.Context, key string, out any) (bool, error) {
	if !m.nocache {
		m.mu.RLock()
		entry, ok := m.cache[key]
		m.mu.RUnlock()
		if ok {
			if err := json.Unmarshal(entry.Value, out); err != nil {
				return false, fmt.Errorf("unmarshal state %q: %w", key, err)
			}
			return true, nil
		}
	}

	entry, ok, err := m.fetch(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return false, fmt.Errorf("unmarshal state %q: %w", key, err)
	}
	return true, nil
}

// Inspect returns the full entry envelope, bypassing value decoding.
func (m *Manager) Inspect(ctx context.Context, key string) (Entry, bool, error) {
	if !m.nocache {
		m.mu.RLock()
		entry, ok := m.cache[key]
		m.mu.RUnlock()
		if ok {
			return entry, true, nil
		}
	}
	return m.fetch(ctx, key)
}

func (m *Manager) fetch(ctx context.Context, key string) (Entry, bool, error) {
	payload, ok, err := m.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("load state %q: %w", key, err)
	}
	if !ok {
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode state entry %q: %w", key, err)
	}

	if !m.nocache {
		m.mu.Lock()
		m.cache[key] = entry
		m.mu.Unlock()
	}
	return entry, true, nil
}

// Delete removes the key from the backend and the cache.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.Del(ctx, keyPrefix+key); err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

// Keys lists the keys matching the glob pattern, prefix stripped.
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	raw, err := m.store.Keys(ctx, keyPrefix+pattern)
	if err != nil {
		return nil, fmt.Errorf("list state keys %q: %w", pattern, err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, keyPrefix))
	}
	sort.Strings(keys)
	return keys, nil
}
